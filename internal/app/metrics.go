package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK       = "ok"
	resultRejected = "rejected"
	resultError    = "error"

	cacheHit   = "hit"
	cacheMiss  = "miss"
	cacheError = "error"
)

var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_workspace_operations_total",
		Help: "Workspace patch operations by name and result.",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "marginalia_workspace_operation_duration_seconds",
		Help:    "Time spent applying a patch operation, including the store transaction.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	replacementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_workspace_replacements_total",
		Help: "Full workspace replacements and snapshot restores by result.",
	}, []string{"result"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marginalia_workspace_cache_total",
		Help: "Workspace cache lookups by result.",
	}, []string{"result"})
)
