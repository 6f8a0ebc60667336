package app

import (
	"fmt"
	"strings"

	"github.com/antoniostano/vistaar/internal/config"
	"github.com/antoniostano/vistaar/internal/vistaar"
	"github.com/antoniostano/vistaar/internal/voice"
)

type voiceSetup struct {
	transcriber voice.Transcriber
	synthesizer voice.Synthesizer
	provider    string
	detail      string
}

// resolveVoiceProviders picks the speech services. With a fallback service
// type configured, transcription fails over between the two.
func resolveVoiceProviders(cfg config.Config, client *vistaar.Client, observer voice.Observer) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "service"
	}

	switch mode {
	case "mock":
		p := voice.NewMockProvider()
		return voiceSetup{
			transcriber: voice.ObserveTranscriber(p, observer),
			synthesizer: p,
			provider:    "mock",
			detail:      "mock (offline)",
		}, nil
	case "service":
		primary := voice.NewServiceTranscriber(client, cfg.TranscribeService)
		var tr voice.Transcriber = primary
		detail := fmt.Sprintf("service (%s)", primary.ServiceType())

		fallback := strings.TrimSpace(cfg.TranscribeFallbackService)
		if fallback != "" && !strings.EqualFold(fallback, primary.ServiceType()) {
			tr = voice.NewFailoverTranscriber(primary, voice.NewServiceTranscriber(client, fallback))
			detail = fmt.Sprintf("service (%s, automatic %s fallback)", primary.ServiceType(), fallback)
		}
		return voiceSetup{
			transcriber: voice.ObserveTranscriber(tr, observer),
			synthesizer: voice.NewServiceSynthesizer(client),
			provider:    "service",
			detail:      detail,
		}, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VISTAAR_VOICE_PROVIDER: %q (expected service|mock)", cfg.VoiceProvider)
	}
}
