package search

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentdex_index_queue_depth",
		Help: "Number of index updates waiting in the async queue.",
	})

	repairBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentdex_index_repair_backlog",
		Help: "Number of agents parked in the index repair log.",
	})

	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentdex_index_updates_total",
		Help: "Index update outcomes.",
	}, []string{"result"})

	updatesLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentdex_index_updates_late_total",
		Help: "Index updates applied later than the staleness budget.",
	})
)
