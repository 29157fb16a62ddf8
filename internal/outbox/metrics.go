package outbox

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "outpost"

var (
	outboxQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "queue_size",
			Help:      "Number of outbox rows by status",
		},
		[]string{"status"},
	)

	outboxEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "enqueued_total",
			Help:      "Total items enqueued",
		},
		[]string{"kind"},
	)

	outboxDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dispatched_total",
			Help:      "Total dispatch attempts by outcome",
		},
		[]string{"kind", "outcome"},
	)

	outboxDispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "dispatch_duration_seconds",
			Help:      "Time to dispatch one outbox row",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"kind"},
	)

	outboxBatchClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "claimed_total",
			Help:      "Total rows claimed from the queue (before dispatch). Sum of dispatched_total should match this.",
		},
	)

	outboxStaleReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "stale_reclaimed_total",
			Help:      "Delivering rows reclaimed after a lease timeout",
		},
	)
)

func recordEnqueued(kind string) {
	outboxEnqueued.WithLabelValues(kind).Inc()
}

func recordDispatched(kind, outcome string) {
	outboxDispatched.WithLabelValues(kind, outcome).Inc()
}

func recordDispatchDuration(kind string, d time.Duration) {
	outboxDispatchDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func recordBatchClaimed(count int) {
	outboxBatchClaimed.Add(float64(count))
}

func recordStaleReclaimed(count int64) {
	outboxStaleReclaimed.Add(float64(count))
}

// RecordQueueStats updates queue size metrics.
func RecordQueueStats(stats *QueueStats) {
	outboxQueueSize.WithLabelValues("queued").Set(float64(stats.Queued))
	outboxQueueSize.WithLabelValues("delivering").Set(float64(stats.Delivering))
	outboxQueueSize.WithLabelValues("delivered").Set(float64(stats.Delivered))
	outboxQueueSize.WithLabelValues("failed").Set(float64(stats.Failed))
	outboxQueueSize.WithLabelValues("dead").Set(float64(stats.Dead))
}
