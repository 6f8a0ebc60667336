package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/voice"
)

type statusErr int

func (e statusErr) Error() string   { return "status" }
func (e statusErr) StatusCode() int { return int(e) }

// sample returns the counter value, or the histogram sample count, of the
// series name{labels}.
func sample(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	series:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue series
				}
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestMetricsObserveUpstreamLabelsKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, "test")
	m.ObserveUpstream("chat", 120*time.Millisecond, nil)
	m.ObserveUpstream("chat", time.Second, statusErr(502))

	if got := sample(t, reg, "test_upstream_errors_total", map[string]string{"endpoint": "chat", "kind": "upstream"}); got != 1 {
		t.Fatalf("upstream errors = %v, want 1", got)
	}
	if got := sample(t, reg, "test_upstream_latency_ms", map[string]string{"endpoint": "chat"}); got != 2 {
		t.Fatalf("latency samples = %v, want 2", got)
	}
}

func TestMetricsFeedStageWindow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, "test")
	m.ObserveFirstFrame(400 * time.Millisecond)
	m.ObserveTranscription(900*time.Millisecond, nil)
	m.ObserveTranscription(0, errors.New("down"))
	m.ObserveAnswer(nil)
	m.ObservePlaybackState(voice.StatePlaying)

	snap := m.LatencySnapshot()
	if len(snap.Stages) != 2 {
		t.Fatalf("stages = %+v, want first frame and transcript", snap.Stages)
	}
	names := map[string]int{}
	for _, ind := range snap.Outcomes {
		names[ind.Name] = ind.Count
	}
	if names["transcription_failed"] != 1 || names["answer_ok"] != 1 {
		t.Fatalf("indicators = %v", names)
	}
	if got := sample(t, reg, "test_playback_state_transitions_total", map[string]string{"state": "playing"}); got != 1 {
		t.Fatalf("playing transitions = %v, want 1", got)
	}

	m.ResetLatency()
	if snap := m.LatencySnapshot(); len(snap.Stages) != 0 {
		t.Fatalf("stages after reset = %d, want 0", len(snap.Stages))
	}
}

func TestTelemetryRedactsAndCounts(t *testing.T) {
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()
	m := newMetrics(reg, "test")
	tel := NewTelemetry(zerolog.New(&buf), m)

	tel.Question("s1", "q1", "call me on +91 98765 43210")
	if err := tel.Feedback("s1", "q1", Feedback{Kind: FeedbackLike}); err != nil {
		t.Fatalf("Feedback() error = %v", err)
	}
	if err := tel.Feedback("s1", "q1", Feedback{Kind: "meh"}); !errors.Is(err, ErrInvalidFeedback) {
		t.Fatalf("Feedback(meh) error = %v, want ErrInvalidFeedback", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("logged %d events, want 2: %s", len(lines), buf.String())
	}
	var q map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &q); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if q["event"] != EventQuestion || q["question_id"] != "q1" {
		t.Fatalf("question event = %v", q)
	}
	if s, _ := q["question"].(string); strings.Contains(s, "98765") {
		t.Fatalf("phone number not redacted: %q", s)
	}
	var fb map[string]any
	_ = json.Unmarshal([]byte(lines[1]), &fb)
	if fb["feedback"] != "Liked the response" || fb["feedback_type"] != "like" {
		t.Fatalf("feedback event = %v", fb)
	}
	if got := sample(t, reg, "test_telemetry_events_total", map[string]string{"event": EventFeedback}); got != 1 {
		t.Fatalf("feedback events = %v, want 1", got)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "warn", false)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("log output = %q", buf.String())
	}
	if l := newLogger(&buf, "bogus", false); l.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("level for bogus = %v, want info", l.GetLevel())
	}
}
