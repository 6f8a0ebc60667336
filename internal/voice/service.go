package voice

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antoniostano/vistaar/internal/vistaar"
)

const (
	DefaultTranscribeService = "bhashini"
	DefaultFallbackService   = "whisper"
)

// TranscribeAPI is the upstream transcription endpoint.
type TranscribeAPI interface {
	Transcribe(ctx context.Context, req vistaar.TranscribeRequest) (vistaar.TranscribeResponse, error)
}

// SynthesizeAPI is the upstream speech endpoint.
type SynthesizeAPI interface {
	Synthesize(ctx context.Context, req vistaar.SynthesizeRequest) (vistaar.SynthesizeResponse, error)
}

// ServiceTranscriber sends audio to one upstream recognition service.
type ServiceTranscriber struct {
	api         TranscribeAPI
	serviceType string
}

func NewServiceTranscriber(api TranscribeAPI, serviceType string) *ServiceTranscriber {
	serviceType = strings.TrimSpace(serviceType)
	if serviceType == "" {
		serviceType = DefaultTranscribeService
	}
	return &ServiceTranscriber{api: api, serviceType: serviceType}
}

func (t *ServiceTranscriber) ServiceType() string { return t.serviceType }

func (t *ServiceTranscriber) Transcribe(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error) {
	if len(canonical) == 0 {
		return failedTranscript(), fmt.Errorf("%w: no audio", ErrTranscription)
	}
	res, err := t.api.Transcribe(ctx, vistaar.TranscribeRequest{
		AudioContent: base64.StdEncoding.EncodeToString(canonical),
		ServiceType:  t.serviceType,
		SessionID:    sessionID,
	})
	if err != nil {
		return failedTranscript(), fmt.Errorf("%w: %s: %w", ErrTranscription, t.serviceType, err)
	}
	if !strings.EqualFold(res.Status, string(TranscriptSuccess)) {
		return failedTranscript(), fmt.Errorf("%w: %s: status %q", ErrTranscription, t.serviceType, res.Status)
	}
	return TranscriptResult{
		Text:         strings.TrimSpace(res.Text),
		LanguageCode: res.LangCode,
		Status:       TranscriptSuccess,
	}, nil
}

// ServiceSynthesizer requests speech from the upstream TTS endpoint.
type ServiceSynthesizer struct {
	api SynthesizeAPI
}

func NewServiceSynthesizer(api SynthesizeAPI) *ServiceSynthesizer {
	return &ServiceSynthesizer{api: api}
}

var errNoAudioData = errors.New("no audio data received")

func (s *ServiceSynthesizer) Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error) {
	res, err := s.api.Synthesize(ctx, vistaar.SynthesizeRequest{
		SessionID:  req.SessionID,
		Text:       req.Text,
		TargetLang: req.TargetLang,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	if res.AudioData == "" {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, errNoAudioData)
	}
	audio, err := base64.StdEncoding.DecodeString(res.AudioData)
	if err != nil {
		return nil, fmt.Errorf("%w: decode audio_data: %w", ErrSynthesis, err)
	}
	return audio, nil
}

type observedTranscriber struct {
	Transcriber
	observer Observer
}

// ObserveTranscriber reports the latency and outcome of every call to t.
func ObserveTranscriber(t Transcriber, o Observer) Transcriber {
	if o == nil {
		return t
	}
	return observedTranscriber{Transcriber: t, observer: o}
}

func (t observedTranscriber) Transcribe(ctx context.Context, sessionID string, canonical []byte) (TranscriptResult, error) {
	start := time.Now()
	res, err := t.Transcriber.Transcribe(ctx, sessionID, canonical)
	t.observer.ObserveTranscription(time.Since(start), err)
	return res, err
}
