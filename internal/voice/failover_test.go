package voice

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/antoniostano/vistaar/internal/reliability"
)

type stubTranscriber struct {
	calls      int
	transcribe func(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error)
}

func (s *stubTranscriber) Transcribe(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error) {
	s.calls++
	return s.transcribe(ctx, sessionID, canonical)
}

// statusError is an upstream failure carrying an HTTP status.
type statusError int

func (e statusError) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusError) StatusCode() int { return int(e) }

func okTranscript(text string) func(context.Context, string, []byte) (TranscriptResult, error) {
	return func(context.Context, string, []byte) (TranscriptResult, error) {
		return TranscriptResult{Text: text, LanguageCode: "mr", Status: TranscriptSuccess}, nil
	}
}

func failTranscript(err error) func(context.Context, string, []byte) (TranscriptResult, error) {
	return func(context.Context, string, []byte) (TranscriptResult, error) {
		return failedTranscript(), fmt.Errorf("%w: %w", ErrTranscription, err)
	}
}

func TestFailoverTranscriberSwitchesToFallbackAndSticks(t *testing.T) {
	ctx := context.Background()
	primary := &stubTranscriber{transcribe: failTranscript(statusError(503))}
	fallback := &stubTranscriber{transcribe: okTranscript("fallback text")}
	f := NewFailoverTranscriber(primary, fallback)

	for i := 0; i < 2; i++ {
		res, err := f.Transcribe(ctx, "s1", []byte("wav"))
		if err != nil {
			t.Fatalf("Transcribe() #%d error = %v", i, err)
		}
		if res.Text != "fallback text" {
			t.Fatalf("Transcribe() #%d text = %q, want fallback text", i, res.Text)
		}
	}
	if primary.calls != 1 {
		t.Fatalf("primary calls = %d, want 1", primary.calls)
	}
	if fallback.calls != 2 {
		t.Fatalf("fallback calls = %d, want 2", fallback.calls)
	}
	if !f.FallbackActive() {
		t.Fatalf("FallbackActive() = false, want true")
	}
}

func TestFailoverTranscriberReturnsToPrimary(t *testing.T) {
	ctx := context.Background()
	primaryDown := true
	primary := &stubTranscriber{transcribe: func(ctx context.Context, sid string, b []byte) (TranscriptResult, error) {
		if primaryDown {
			return failTranscript(statusError(502))(ctx, sid, b)
		}
		return okTranscript("primary text")(ctx, sid, b)
	}}
	fallbackDown := false
	fallback := &stubTranscriber{transcribe: func(ctx context.Context, sid string, b []byte) (TranscriptResult, error) {
		if fallbackDown {
			return failTranscript(statusError(502))(ctx, sid, b)
		}
		return okTranscript("fallback text")(ctx, sid, b)
	}}
	f := NewFailoverTranscriber(primary, fallback)

	if _, err := f.Transcribe(ctx, "s1", []byte("wav")); err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	primaryDown, fallbackDown = false, true
	res, err := f.Transcribe(ctx, "s1", []byte("wav"))
	if err != nil || res.Text != "primary text" {
		t.Fatalf("Transcribe() = %+v, %v, want primary text", res, err)
	}
	if f.FallbackActive() {
		t.Fatalf("FallbackActive() = true after primary recovered")
	}
}

func TestFailoverTranscriberSkipsFallbackOnAuthFailure(t *testing.T) {
	authErr := reliability.Sentinel(reliability.KindAuth, "authentication required")
	primary := &stubTranscriber{transcribe: func(context.Context, string, []byte) (TranscriptResult, error) {
		return failedTranscript(), fmt.Errorf("%w: %w", ErrTranscription, authErr)
	}}
	fallback := &stubTranscriber{transcribe: okTranscript("unused")}
	f := NewFailoverTranscriber(primary, fallback)

	if _, err := f.Transcribe(context.Background(), "s1", []byte("wav")); !errors.Is(err, authErr) {
		t.Fatalf("Transcribe() error = %v, want auth error", err)
	}
	if fallback.calls != 0 {
		t.Fatalf("fallback calls = %d, want 0", fallback.calls)
	}
}

func TestFailoverTranscriberCombinedErrorWhenBothFail(t *testing.T) {
	primary := &stubTranscriber{transcribe: failTranscript(statusError(500))}
	fallback := &stubTranscriber{transcribe: failTranscript(statusError(504))}
	f := NewFailoverTranscriber(primary, fallback)

	res, err := f.Transcribe(context.Background(), "s1", []byte("wav"))
	if !errors.Is(err, ErrTranscription) {
		t.Fatalf("Transcribe() error = %v, want ErrTranscription", err)
	}
	if res.Status != TranscriptError || res.Text != "" {
		t.Fatalf("Transcribe() result = %+v, want empty error result", res)
	}
}

func TestFailoverTranscriberKeepsPrimaryOnNonRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "bad request", err: statusError(400)},
		{name: "plain error", err: errors.New("malformed audio")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary := &stubTranscriber{transcribe: failTranscript(tt.err)}
			fallback := &stubTranscriber{transcribe: okTranscript("unused")}
			f := NewFailoverTranscriber(primary, fallback)

			if _, err := f.Transcribe(context.Background(), "s1", []byte("wav")); !errors.Is(err, tt.err) {
				t.Fatalf("Transcribe() error = %v, want %v", err, tt.err)
			}
			if fallback.calls != 0 || f.FallbackActive() {
				t.Fatalf("fallback calls = %d active = %v, want untouched", fallback.calls, f.FallbackActive())
			}
		})
	}
}
