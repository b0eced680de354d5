package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the meeting pipeline.
type Metrics struct {
	StageTransitionsTotal *prometheus.CounterVec
	ProviderSeconds       *prometheus.HistogramVec
	PipelinesInFlight     prometheus.Gauge
	EventsPublishedTotal  *prometheus.CounterVec
	ChatMessagesTotal     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iris_meeting_stage_transitions_total",
				Help: "Meeting stage transitions by target stage",
			},
			[]string{"stage"},
		),
		ProviderSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "iris_provider_request_seconds",
				Help:    "Latency of speech and text-analysis provider calls",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider", "operation", "outcome"},
		),
		PipelinesInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "iris_pipelines_in_flight",
				Help: "Meeting pipelines currently running",
			},
		),
		EventsPublishedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iris_events_published_total",
				Help: "Meeting events handed to the event bus",
			},
			[]string{"type", "outcome"},
		),
		ChatMessagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "iris_chat_messages_total",
				Help: "Chat exchanges by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
