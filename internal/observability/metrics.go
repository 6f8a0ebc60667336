package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/antoniostano/vistaar/internal/reliability"
	"github.com/antoniostano/vistaar/internal/voice"
)

// Metrics groups all Prometheus instruments used by the client.
type Metrics struct {
	ActiveSessions       prometheus.Gauge
	SessionEvents        *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	UpstreamErrors       *prometheus.CounterVec
	UpstreamLatency      *prometheus.HistogramVec
	TranscriptionLatency prometheus.Histogram
	FirstFrameLatency    prometheus.Histogram
	SynthesisLatency     prometheus.Histogram
	Answers              *prometheus.CounterVec
	PlaybackStates       *prometheus.CounterVec
	Recordings           *prometheus.CounterVec
	TelemetryEvents      *prometheus.CounterVec

	latency *latencyWindow
}

func NewMetrics(namespace string) *Metrics {
	return newMetrics(prometheus.DefaultRegisterer, namespace)
}

func newMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	latencyBuckets := []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000}
	return &Metrics{
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active chat sessions.",
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		UpstreamErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Upstream API errors by endpoint and failure kind.",
		}, []string{"endpoint", "kind"}),
		UpstreamLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ms",
			Help:      "Upstream API call latency in milliseconds.",
			Buckets:   latencyBuckets,
		}, []string{"endpoint"}),
		TranscriptionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_ms",
			Help:      "Latency from submitted recording to transcript in milliseconds.",
			Buckets:   latencyBuckets,
		}),
		FirstFrameLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_frame_latency_ms",
			Help:      "Latency to the first streamed answer frame in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		SynthesisLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_latency_ms",
			Help:      "Speech synthesis latency in milliseconds.",
			Buckets:   latencyBuckets,
		}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Chat answers by outcome.",
		}, []string{"outcome"}),
		PlaybackStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_state_transitions_total",
			Help:      "Speech playback state transitions by target state.",
		}, []string{"state"}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_total",
			Help:      "Microphone recordings by outcome.",
		}, []string{"outcome"}),
		TelemetryEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_events_total",
			Help:      "Analytics events by type.",
		}, []string{"event"}),
		latency: newLatencyWindow(256),
	}
}

// ObserveUpstream records one call to the advisory API.
func (m *Metrics) ObserveUpstream(endpoint string, elapsed time.Duration, err error) {
	m.UpstreamLatency.WithLabelValues(endpoint).Observe(ms(elapsed))
	if err != nil {
		m.UpstreamErrors.WithLabelValues(endpoint, string(reliability.Classify(err))).Inc()
	}
}

func (m *Metrics) ObserveTranscription(elapsed time.Duration, err error) {
	if err != nil {
		m.latency.count("transcription_failed")
		return
	}
	m.TranscriptionLatency.Observe(ms(elapsed))
	m.latency.add(StageRecordToTranscript, ms(elapsed))
}

func (m *Metrics) ObserveSynthesis(elapsed time.Duration, err error) {
	if err != nil {
		m.latency.count("synthesis_failed")
		return
	}
	m.SynthesisLatency.Observe(ms(elapsed))
	m.latency.add(StageSynthesis, ms(elapsed))
}

func (m *Metrics) ObservePlaybackState(state voice.PlaybackState) {
	m.PlaybackStates.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) ObserveFirstFrame(elapsed time.Duration) {
	m.FirstFrameLatency.Observe(ms(elapsed))
	m.latency.add(StageQueryToFirstFrame, ms(elapsed))
}

func (m *Metrics) ObserveAnswer(err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(reliability.Classify(err))
	}
	m.Answers.WithLabelValues(outcome).Inc()
	m.latency.count("answer_" + outcome)
}

// ObserveRecording counts a finished recording by outcome (user, timeout,
// cancelled, fallback or permission).
func (m *Metrics) ObserveRecording(outcome string) {
	m.Recordings.WithLabelValues(outcome).Inc()
}

// LatencySnapshot summarizes the recent per-stage latencies of question turns.
func (m *Metrics) LatencySnapshot() LatencySnapshot {
	return m.latency.snapshot()
}

func (m *Metrics) ResetLatency() {
	m.latency.reset()
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
