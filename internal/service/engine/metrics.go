package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeDuplicate = "duplicate"
)

var transactionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "ledgerd",
		Name:      "transactions_total",
		Help:      "Transactions processed by the engine, by outcome",
	},
	[]string{"outcome"},
)

func observe(outcome string) { transactionsTotal.WithLabelValues(outcome).Inc() }
