// Package observability holds the service-wide Prometheus collectors.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	eventsAppliedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "attendance",
		Name:      "events_applied_total",
		Help:      "Number of punch and break events committed, labeled by kind.",
	}, []string{"kind"})

	eventsRejectedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "attendance",
		Name:      "events_rejected_total",
		Help:      "Number of punch and break events rejected, labeled by reason.",
	}, []string{"reason"})

	lastEventGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "persistence",
		Name:      "last_event_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent attendance event persisted.",
	})

	syncVerdictCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "sync",
		Name:      "verdicts_total",
		Help:      "Number of snapshot consistency checks, labeled by verdict.",
	}, []string{"verdict"})
)

func init() {
	prometheus.MustRegister(eventsAppliedCounter, eventsRejectedCounter, lastEventGauge, syncVerdictCounter)
}

// RecordAttendanceEvent counts a committed event and moves the persistence watermark.
func RecordAttendanceEvent(kind string, ts time.Time) {
	eventsAppliedCounter.WithLabelValues(kind).Inc()
	if ts.IsZero() {
		return
	}
	lastEventGauge.Set(float64(ts.Unix()))
}

// RecordEventRejected counts a rejected mutation.
func RecordEventRejected(reason string) {
	eventsRejectedCounter.WithLabelValues(reason).Inc()
}

// RecordSyncVerdict counts a reconciler outcome.
func RecordSyncVerdict(verdict string) {
	syncVerdictCounter.WithLabelValues(verdict).Inc()
}
