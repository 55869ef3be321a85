// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts dispatched platform events by kind.
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "events_total",
		Help:      "Platform events dispatched, by kind.",
	}, []string{"kind"})

	// HandlerPanics counts recovered panics by component.
	HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "handler_panics_total",
		Help:      "Panics recovered while handling events or commands.",
	}, []string{"component"})

	// CommandsTotal counts commands by name and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "commands_total",
		Help:      "Prefix commands handled, by command and result.",
	}, []string{"command", "result"})

	// EnforcementsTotal counts lock reverts and auto-removals by attribute.
	EnforcementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "enforcements_total",
		Help:      "Lock reverts and auto-removals applied, by attribute.",
	}, []string{"attribute"})

	// SessionMessages counts timed-session deliveries by outcome.
	SessionMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "session_messages_total",
		Help:      "Timed session ticks, by result.",
	}, []string{"result"})

	// ActiveSessions tracks running timed sessions by kind.
	ActiveSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "active_sessions",
		Help:      "Timed sessions currently running, by kind.",
	}, []string{"kind"})

	// LoginsTotal counts login attempts by result.
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "logins_total",
		Help:      "Platform login attempts, by result.",
	}, []string{"result"})

	// ListenerFailures counts listener failures reported by the platform.
	ListenerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "warden",
		Name:      "listener_failures_total",
		Help:      "Event listener failures.",
	})

	// SupervisorState is 1 for the supervisor's current state, 0 otherwise.
	SupervisorState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "supervisor_state",
		Help:      "Current supervisor state (1 = active).",
	}, []string{"state"})

	// ReconnectAttempts is the current listener reconnect attempt count.
	ReconnectAttempts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "warden",
		Name:      "reconnect_attempts",
		Help:      "Listener reconnect attempts since the last successful login.",
	})
)

// SetSupervisorState marks state as the only active supervisor state.
func SetSupervisorState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SupervisorState.WithLabelValues(s).Set(v)
	}
}
