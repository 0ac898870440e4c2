package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reloadInitial  = "initial"
	reloadRecovery = "recovery"
	reloadRetry    = "retry"
	reloadRefresh  = "refresh"

	reloadApplied    = "applied"
	reloadStale      = "stale"
	reloadSuperseded = "superseded"
	reloadDiscarded  = "discarded"
	reloadFailed     = "failed"
)

var (
	gesturesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskboard_gestures_total",
		Help: "Drag gestures by final outcome",
	}, []string{"outcome"})

	reloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "taskboard_reloads_total",
		Help: "Full board reloads by reason and result",
	}, []string{"reason", "result"})

	dispatchSaturated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "taskboard_dispatch_saturated_total",
		Help: "Remote calls run outside the worker pool because its buffer was full",
	})
)
