package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rentledger",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Sweep job executions by job and outcome.",
	}, []string{"job", "outcome"})

	sweepInvoicesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "rentledger",
		Subsystem: "sweep",
		Name:      "invoices_processed_total",
		Help:      "Invoices flipped overdue or charged a late fee.",
	})
)
