package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage names shared by metrics, spans and the latency window.
const (
	StageTranscription       = "transcription"
	StageReasoning           = "reasoning"
	StageSearch              = "search"
	StageSynthesisFirstFrame = "synthesis_first_frame"
	StageEndpointToAudio     = "endpoint_to_first_audio"
)

// Metrics groups all Prometheus instruments used by the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ActiveCalls         prometheus.Gauge
	CallEvents          *prometheus.CounterVec
	AdmissionRejections *prometheus.CounterVec
	StateTransitions    *prometheus.CounterVec
	StageLatency        *prometheus.HistogramVec
	StageFailures       *prometheus.CounterVec
	ProviderAttempts    *prometheus.CounterVec
	BargeIns            prometheus.Counter
	DroppedFrames       *prometheus.CounterVec
	StreamMessages      *prometheus.CounterVec
	CallLogDrops        prometheus.Counter

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of live call sessions.",
		}),
		CallEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		AdmissionRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_rejections_total",
			Help:      "Calls rejected at admission by reason.",
		}, []string{"reason"}),
		StateTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Turn controller state transitions.",
		}, []string{"from", "to"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_latency_ms",
			Help:      "Pipeline stage latency in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 3000, 5000},
		}, []string{"stage"}),
		StageFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_failures_total",
			Help:      "Pipeline stage failures by stage and reason.",
		}, []string{"stage", "reason"}),
		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Backend attempts by stage, provider and outcome.",
		}, []string{"stage", "provider", "outcome"}),
		BargeIns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Caller barge-ins that cancelled agent output.",
		}),
		DroppedFrames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_frames_total",
			Help:      "Inbound frames dropped by reason.",
		}, []string{"reason"}),
		StreamMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_messages_total",
			Help:      "Media stream messages by direction and event.",
		}, []string{"direction", "event"}),
		CallLogDrops: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_log_drops_total",
			Help:      "Call log events dropped because the recorder queue was full or closed.",
		}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.ActiveCalls.Inc()
	m.CallEvents.WithLabelValues("started").Inc()
}

func (m *Metrics) CallEnded(reason string) {
	if m == nil {
		return
	}
	m.ActiveCalls.Dec()
	m.CallEvents.WithLabelValues("ended_" + reason).Inc()
}

func (m *Metrics) AdmissionRejected(reason string) {
	if m == nil {
		return
	}
	m.AdmissionRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveStage records a stage latency in the histogram and the rolling window.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	ms := float64(d.Microseconds()) / 1000
	m.StageLatency.WithLabelValues(stage).Observe(ms)
	m.stages.Observe(stage, ms)
}

func (m *Metrics) StageFailed(stage, reason string) {
	if m == nil {
		return
	}
	m.StageFailures.WithLabelValues(stage, reason).Inc()
	m.stages.ObserveIndicator(stage + "_" + reason)
}

func (m *Metrics) ProviderAttempt(stage, provider, outcome string) {
	if m == nil {
		return
	}
	m.ProviderAttempts.WithLabelValues(stage, provider, outcome).Inc()
}

func (m *Metrics) BargeIn() {
	if m == nil {
		return
	}
	m.BargeIns.Inc()
	m.stages.ObserveIndicator("barge_in")
}

func (m *Metrics) DroppedFrame(reason string) {
	if m == nil {
		return
	}
	m.DroppedFrames.WithLabelValues(reason).Inc()
}

func (m *Metrics) StreamMessage(direction, event string) {
	if m == nil {
		return
	}
	m.StreamMessages.WithLabelValues(direction, event).Inc()
}

func (m *Metrics) CallLogDropped() {
	if m == nil {
		return
	}
	m.CallLogDrops.Inc()
}

// SnapshotStages returns rolling percentiles per stage.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageStats{}}
	}
	return m.stages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
