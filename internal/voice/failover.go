package voice

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/antoniostano/vistaar/internal/reliability"
)

// FailoverTranscriber prefers the primary service and switches to the
// fallback when the primary fails with a retryable status or a timeout. Once the fallback succeeds it stays active
// until it fails; then the primary is retried.
type FailoverTranscriber struct {
	primary        Transcriber
	fallback       Transcriber
	fallbackActive atomic.Bool
}

func NewFailoverTranscriber(primary, fallback Transcriber) *FailoverTranscriber {
	return &FailoverTranscriber{primary: primary, fallback: fallback}
}

// FallbackActive reports whether calls currently go to the fallback first.
func (f *FailoverTranscriber) FallbackActive() bool {
	return f.fallbackActive.Load()
}

func (f *FailoverTranscriber) Transcribe(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error) {
	if f.fallback == nil {
		return f.primary.Transcribe(ctx, sessionID, canonical)
	}

	if f.fallbackActive.Load() {
		res, fbErr := f.fallback.Transcribe(ctx, sessionID, canonical)
		if fbErr == nil || !shouldFailover(fbErr) {
			return res, fbErr
		}
		// Fallback failed after being active; try primary again.
		res, prErr := f.primary.Transcribe(ctx, sessionID, canonical)
		if prErr == nil {
			f.fallbackActive.Store(false)
			return res, nil
		}
		return failedTranscript(), fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	res, prErr := f.primary.Transcribe(ctx, sessionID, canonical)
	if prErr == nil || !shouldFailover(prErr) {
		return res, prErr
	}
	res, fbErr := f.fallback.Transcribe(ctx, sessionID, canonical)
	if fbErr != nil {
		return failedTranscript(), fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return res, nil
}

// Only retryable statuses (429, 5xx) and timeouts switch services. Auth
// failures and cancellations would fail the same way on any service.
func shouldFailover(err error) bool {
	switch reliability.Classify(err) {
	case reliability.KindAuth, reliability.KindCanceled:
		return false
	}
	return reliability.Retryable(err)
}
