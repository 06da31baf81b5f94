package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "escrow_job_transitions_total",
	Help: "Committed job lifecycle transitions by action",
}, []string{"action"})
