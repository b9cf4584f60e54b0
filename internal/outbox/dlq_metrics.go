package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of a DLQ manager pass over one entry.
const (
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeRetry       = "retry_scheduled"
	dlqOutcomeQuarantined = "quarantined"
	dlqOutcomeHeld        = "held_for_order"
)

var (
	dlqOutcomeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "entries_handled_total",
		Help:      "DLQ entries handled by the manager, by topic, event type and outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "attendance_service",
		Subsystem: "dlq",
		Name:      "entries",
		Help:      "Entries currently in the DLQ, split into pending and quarantined.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(dlqOutcomeCounter, dlqBacklogGauge)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomeCounter.WithLabelValues(entry.Topic, entry.EventType, outcome).Inc()
}

// updateBacklogGauge is best effort; a failed count leaves the previous values in place.
func updateBacklogGauge(ctx context.Context, pool *pgxpool.Pool) {
	var pending, quarantined int
	err := pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE quarantined_at IS NULL),
		       COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
		  FROM outbox_dlq`).Scan(&pending, &quarantined)
	if err != nil {
		return
	}
	dlqBacklogGauge.WithLabelValues("pending").Set(float64(pending))
	dlqBacklogGauge.WithLabelValues("quarantined").Set(float64(quarantined))
}
