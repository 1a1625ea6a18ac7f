// Package metrics exposes Prometheus counters for the session core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/murmurkit/murmur/pkg/session"
	"github.com/murmurkit/murmur/pkg/tools"
)

// Metrics contains all Prometheus metrics for the assistant.
type Metrics struct {
	// Capture metrics
	FramesSent    prometheus.Counter
	FramesDropped prometheus.Counter

	// Playback metrics
	ChunksScheduled prometheus.Counter
	ChunksDropped   prometheus.Counter
	Speaking        prometheus.Gauge

	// Tool metrics
	ToolCalls *prometheus.CounterVec

	// Session metrics
	SessionState      prometheus.Gauge
	SessionsStarted   prometheus.Counter
	TransportFailures prometheus.Counter
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_capture_frames_sent_total",
			Help: "Total number of captured audio frames forwarded to the transport",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_capture_frames_dropped_total",
			Help: "Total number of captured audio frames dropped before send",
		}),
		ChunksScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_playback_chunks_scheduled_total",
			Help: "Total number of response audio chunks scheduled for playback",
		}),
		ChunksDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_playback_chunks_dropped_total",
			Help: "Total number of response audio chunks dropped as malformed",
		}),
		Speaking: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_speaking",
			Help: "Whether response audio is currently playing (0 or 1)",
		}),
		ToolCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "murmur_tool_calls_total",
			Help: "Total number of tool calls resolved, by name and outcome",
		}, []string{"name", "outcome"}),
		SessionState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "murmur_session_state",
			Help: "Current session lifecycle state (0 idle, 1 connecting, 2 connected, 3 error)",
		}),
		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_sessions_started_total",
			Help: "Total number of session start attempts",
		}),
		TransportFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "murmur_transport_failures_total",
			Help: "Total number of sessions ended by a transport error",
		}),
	}
}

// FrameSent implements capture.Stats.
func (m *Metrics) FrameSent() { m.FramesSent.Inc() }

// FrameDropped implements capture.Stats.
func (m *Metrics) FrameDropped() { m.FramesDropped.Inc() }

// ChunkScheduled implements session.RouterStats.
func (m *Metrics) ChunkScheduled() { m.ChunksScheduled.Inc() }

// ChunkDropped implements session.RouterStats.
func (m *Metrics) ChunkDropped() { m.ChunksDropped.Inc() }

// ObserveSpeaking records the speaking indicator.
func (m *Metrics) ObserveSpeaking(on bool) {
	if on {
		m.Speaking.Set(1)
	} else {
		m.Speaking.Set(0)
	}
}

// ObserveToolCall records one resolved tool call.
func (m *Metrics) ObserveToolCall(name string, outcome tools.Outcome) {
	m.ToolCalls.WithLabelValues(name, string(outcome)).Inc()
}

// ObserveState records a lifecycle transition.
func (m *Metrics) ObserveState(s session.State) {
	m.SessionState.Set(float64(s))
	switch s {
	case session.StateConnecting:
		m.SessionsStarted.Inc()
	case session.StateErrored:
		m.TransportFailures.Inc()
	}
}
