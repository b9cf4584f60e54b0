package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "attendance_service"

var (
	processedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "consumer",
		Name:      "messages_processed_total",
		Help:      "Attendance events handled and committed, by topic and event type.",
	}, []string{"topic", "event_type"})

	handlerErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "consumer",
		Name:      "handler_errors_total",
		Help:      "Attendance events left uncommitted after the handler failed.",
	}, []string{"topic", "event_type"})

	decodeErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "consumer",
		Name:      "decode_errors_total",
		Help:      "Malformed records dropped per topic.",
	}, []string{"topic"})

	projectionLag = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "consumer",
		Name:      "projection_lag_seconds",
		Help:      "Delay between a record being published and it being committed by the consumer.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15, 60, 300},
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(processedCounter, handlerErrorCounter, decodeErrorCounter, projectionLag)
}

func recordProcessed(msg Message, now time.Time) {
	processedCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
	if !msg.Timestamp.IsZero() {
		lag := now.Sub(msg.Timestamp)
		if lag < 0 {
			lag = 0
		}
		projectionLag.WithLabelValues(msg.Topic).Observe(lag.Seconds())
	}
}

func recordHandlerError(msg Message) {
	handlerErrorCounter.WithLabelValues(msg.Topic, msg.EventType).Inc()
}

func recordDecodeError(topic string) {
	decodeErrorCounter.WithLabelValues(topic).Inc()
}
