// Package capture records microphone audio into chunked recordings.
package capture

import (
	"errors"

	"github.com/antoniostano/vistaar/internal/reliability"
)

var (
	// ErrPermission reports that the microphone could not be opened.
	ErrPermission = reliability.Sentinel(reliability.KindPermission, "microphone access denied or unavailable")
	ErrNoStream   = errors.New("no capture stream")
)

// Track is one media track of a captured stream.
type Track interface {
	Stop() error
}

// Stream is a live audio source owned by exactly one recording.
type Stream interface {
	SampleRate() int
	Channels() int
	// Samples delivers interleaved float32 frames. It is closed once every
	// track has stopped.
	Samples() <-chan []float32
	Tracks() []Track
}
