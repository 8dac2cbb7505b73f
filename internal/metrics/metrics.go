package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"wellness-service/internal/models"
)

// Metrics groups the service's Prometheus collectors. Build it with New and a
// registerer; tests pass a fresh prometheus.NewRegistry().
type Metrics struct {
	AlertTransitions *prometheus.CounterVec
	DispatchAttempts *prometheus.CounterVec
	DispatchDuration prometheus.Histogram
	IVRTurns         *prometheus.CounterVec
	StatusCallbacks  *prometheus.CounterVec
	TasksDropped     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wellness_alert_transitions_total",
				Help: "Alert lifecycle transitions by event type and level",
			},
			[]string{"event", "level"},
		),
		DispatchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wellness_dispatch_attempts_total",
				Help: "Channel send attempts by channel and outcome",
			},
			[]string{"channel", "outcome"},
		),
		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wellness_dispatch_duration_seconds",
				Help:    "Wall time of one alert fan-out",
				Buckets: prometheus.DefBuckets,
			},
		),
		IVRTurns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wellness_ivr_turns_total",
				Help: "Voice IVR responses rendered by state",
			},
			[]string{"state"},
		),
		StatusCallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wellness_voice_status_callbacks_total",
				Help: "Voice status callbacks by call status",
			},
			[]string{"status"},
		),
		TasksDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wellness_tasks_dropped_total",
				Help: "Tasks dropped because the worker queue was full",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.AlertTransitions,
			m.DispatchAttempts,
			m.DispatchDuration,
			m.IVRTurns,
			m.StatusCallbacks,
			m.TasksDropped,
		)
	}
	return m
}

// NewNop builds unregistered collectors.
func NewNop() *Metrics {
	return New(nil)
}

// ObserveAlertEvent counts a lifecycle transition. It has the alert observer
// signature so it can be subscribed directly.
func (m *Metrics) ObserveAlertEvent(ev models.AlertEvent) {
	m.AlertTransitions.WithLabelValues(string(ev.Type), ev.Alert.Level.String()).Inc()
}
