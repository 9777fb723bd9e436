// Package metrics holds the Prometheus collectors of the operator client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SignalingConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleop_signaling_connects_total",
		Help: "The total number of established signaling connections",
	})

	SignalingDisconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleop_signaling_disconnects_total",
		Help: "The total number of lost signaling connections",
	})

	SignalingMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_signaling_messages_total",
		Help: "The total number of signaling messages by direction and type",
	}, []string{"direction", "type"})

	MalformedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_malformed_messages_total",
		Help: "The total number of dropped inbound messages which could not be parsed",
	}, []string{"source"})

	Sessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teleop_sessions_total",
		Help: "The total number of peer sessions created",
	})

	SessionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_session_failures_total",
		Help: "The total number of failed peer sessions by reason",
	}, []string{"reason"})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teleop_session_state",
		Help: "State of the active peer session (0=none/new, 1=offering, 2=connected, 3=failed)",
	})

	ControlFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_control_frames_total",
		Help: "The total number of control frames by result",
	}, []string{"result"})

	LightToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_light_toggles_total",
		Help: "The total number of light toggles by result",
	}, []string{"result"})

	TelemetryFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teleop_telemetry_frames_total",
		Help: "The total number of telemetry frames received by type",
	}, []string{"type"})
)

const (
	ResultSent    = "sent"
	ResultDropped = "dropped"
)
