package voice

import (
	"context"
	"time"

	"github.com/antoniostano/vistaar/internal/reliability"
)

var (
	ErrTranscription = reliability.Sentinel(reliability.KindTranscription, "transcription failed")
	ErrSynthesis     = reliability.Sentinel(reliability.KindSynthesis, "speech synthesis failed")
	ErrPlayback      = reliability.Sentinel(reliability.KindPlayback, "audio playback failed")
)

type TranscriptStatus string

const (
	TranscriptSuccess TranscriptStatus = "success"
	TranscriptError   TranscriptStatus = "error"
)

// TranscriptResult is the recognized text of one recording. Text is empty
// when Status is TranscriptError.
type TranscriptResult struct {
	Text         string           `json:"text"`
	LanguageCode string           `json:"lang_code"`
	Status       TranscriptStatus `json:"status"`
}

func failedTranscript() TranscriptResult {
	return TranscriptResult{Status: TranscriptError}
}

// Transcriber turns canonical WAV audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error)
}

type SpeechRequest struct {
	SessionID  string
	Text       string
	TargetLang string
}

// Synthesizer returns playable audio bytes for text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
}

// Observer receives latency and state signals for metrics.
type Observer interface {
	ObserveTranscription(elapsed time.Duration, err error)
	ObserveSynthesis(elapsed time.Duration, err error)
	ObservePlaybackState(state PlaybackState)
}

type noopObserver struct{}

func (noopObserver) ObserveTranscription(time.Duration, error) {}
func (noopObserver) ObserveSynthesis(time.Duration, error)     {}
func (noopObserver) ObservePlaybackState(PlaybackState)        {}
