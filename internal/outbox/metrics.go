package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Attendance events published to Kafka, by event type.",
	}, []string{"event_type"})

	failedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Attendance events that could not be published, by event type.",
	}, []string{"event_type"})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "events_dlq_total",
		Help:      "Attendance events moved to outbox_dlq, by topic.",
	}, []string{"topic"})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "attendance_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Wall time of one non-empty dispatcher batch from claim to mark.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, batchDuration)
}

func countByType(counter *prometheus.CounterVec, messages []Message) {
	for _, msg := range messages {
		counter.WithLabelValues(msg.EventType).Inc()
	}
}
