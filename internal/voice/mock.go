package voice

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/antoniostano/vistaar/internal/audio"
)

// MockProvider is an offline transcriber and synthesizer used when no
// upstream service is configured.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

const mockTranscript = "simulated voice input"

func (p *MockProvider) Transcribe(_ context.Context, _ string, canonical []byte) (TranscriptResult, error) {
	size, ok := audio.WAVDataSize(canonical)
	if !ok || size == 0 {
		return TranscriptResult{Status: TranscriptSuccess, LanguageCode: "en"}, nil
	}
	return TranscriptResult{Text: mockTranscript, LanguageCode: "en", Status: TranscriptSuccess}, nil
}

// Synthesize returns a quiet tone whose length follows the text, 60 ms per
// rune capped at five seconds.
func (p *MockProvider) Synthesize(_ context.Context, req SpeechRequest) ([]byte, error) {
	n := utf8.RuneCountInString(strings.TrimSpace(req.Text))
	if n == 0 {
		return nil, errNoAudioData
	}
	seconds := math.Min(float64(n)*0.06, 5)
	frames := int(seconds * audio.CanonicalSampleRate)
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = float32(0.1 * math.Sin(2*math.Pi*440*float64(i)/audio.CanonicalSampleRate))
	}
	return audio.EncodeWAV(samples, audio.CanonicalSampleRate), nil
}
