package reliability

import (
	"context"
	"errors"
	"net"
	"time"
)

// Kind is the failure class an error belongs to. It is used for metric
// labels, notices and retry decisions.
type Kind string

const (
	KindNone          Kind = ""
	KindUnknown       Kind = "unknown"
	KindPermission    Kind = "permission"
	KindTranscription Kind = "transcription"
	KindStream        Kind = "stream"
	KindEmptyResponse Kind = "empty_response"
	KindSynthesis     Kind = "synthesis"
	KindPlayback      Kind = "playback"
	KindAuth          Kind = "auth"
	KindCanceled      Kind = "canceled"
	KindTimeout       Kind = "timeout"
	KindUpstream      Kind = "upstream"
)

type sentinel struct {
	kind Kind
	msg  string
}

func (e *sentinel) Error() string { return e.msg }

// Sentinel returns a comparable error value tagged with kind. Packages
// declare their exported sentinels with it so Classify can recover the kind
// through any amount of wrapping.
func Sentinel(kind Kind, msg string) error {
	return &sentinel{kind: kind, msg: msg}
}

// StatusCoder is implemented by errors that carry an upstream HTTP status.
type StatusCoder interface {
	StatusCode() int
}

// Classify maps err to its kind. An auth failure or a cancellation anywhere
// in the chain wins, since no retry or fallback can change it. Otherwise the
// outermost tagged sentinel wins over transport conditions, so a wrapped
// stream timeout is still a stream failure.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if hasKind(err, KindAuth) {
		return KindAuth
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	var s *sentinel
	if errors.As(err, &s) {
		return s.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return KindUpstream
	}
	return KindUnknown
}

func hasKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	if s, ok := err.(*sentinel); ok && s.kind == kind {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() error }:
		return hasKind(u.Unwrap(), kind)
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if hasKind(e, kind) {
				return true
			}
		}
	}
	return false
}

// Retryable reports whether repeating the failed call may succeed.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var sc StatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.StatusCode())
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
