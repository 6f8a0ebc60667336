package observability

import (
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/policy"
)

const (
	EventQuestion = "question"
	EventResponse = "response"
	EventError    = "error"
	EventFeedback = "feedback"
)

type FeedbackKind string

const (
	FeedbackLike    FeedbackKind = "like"
	FeedbackDislike FeedbackKind = "dislike"
)

var ErrInvalidFeedback = errors.New("feedback must be like or dislike")

// Feedback is the user's rating of one answer.
type Feedback struct {
	Kind     FeedbackKind `json:"kind"`
	Comment  string       `json:"comment,omitempty"`
	Question string       `json:"question,omitempty"`
	Answer   string       `json:"answer,omitempty"`
}

// Telemetry emits analytics events as structured log lines. Free text is
// redacted before it is written.
type Telemetry struct {
	logger  zerolog.Logger
	metrics *Metrics
}

func NewTelemetry(logger zerolog.Logger, metrics *Metrics) *Telemetry {
	return &Telemetry{
		logger:  logger.With().Str("component", "telemetry").Logger(),
		metrics: metrics,
	}
}

func (t *Telemetry) Question(sessionID, questionID, text string) {
	t.event(EventQuestion, sessionID, questionID).
		Str("question", redact(text)).
		Msg("telemetry")
}

func (t *Telemetry) Response(sessionID, questionID, question, answer string) {
	t.event(EventResponse, sessionID, questionID).
		Str("question", redact(question)).
		Str("answer", redact(answer)).
		Msg("telemetry")
}

func (t *Telemetry) Error(sessionID, questionID, detail string) {
	t.event(EventError, sessionID, questionID).
		Str("detail", redact(detail)).
		Msg("telemetry")
}

func (t *Telemetry) Feedback(sessionID, questionID string, fb Feedback) error {
	switch fb.Kind {
	case FeedbackLike, FeedbackDislike:
	default:
		return ErrInvalidFeedback
	}
	comment := strings.TrimSpace(fb.Comment)
	if comment == "" && fb.Kind == FeedbackLike {
		comment = "Liked the response"
	}
	t.event(EventFeedback, sessionID, questionID).
		Str("feedback_type", string(fb.Kind)).
		Str("feedback", redact(comment)).
		Str("question", redact(fb.Question)).
		Str("answer", redact(fb.Answer)).
		Msg("telemetry")
	return nil
}

func (t *Telemetry) event(name, sessionID, questionID string) *zerolog.Event {
	if t.metrics != nil {
		t.metrics.TelemetryEvents.WithLabelValues(name).Inc()
	}
	return t.logger.Info().
		Str("event", name).
		Str("session_id", sessionID).
		Str("question_id", questionID)
}

func redact(s string) string {
	out, _ := policy.RedactPII(s)
	return out
}
