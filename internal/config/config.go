// Package config reads process configuration from the environment.
package config

import "os"

type Config struct {
	// DatabaseURL selects the Postgres store when set.
	DatabaseURL string
	// SQLitePath selects the SQLite store when set and DatabaseURL is not.
	// With neither set the server runs on the in-memory store.
	SQLitePath string
	Addr       string
	LogLevel   string
	LogFormat  string
}

func Load() Config {
	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("SQLITE_PATH"),
		Addr:        getenv("ADDR", ":8080"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		LogFormat:   getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
