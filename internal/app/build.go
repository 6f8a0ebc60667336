package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/auth"
	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/companion"
	"github.com/antoniostano/vistaar/internal/config"
	"github.com/antoniostano/vistaar/internal/history"
	"github.com/antoniostano/vistaar/internal/httpapi"
	"github.com/antoniostano/vistaar/internal/observability"
	"github.com/antoniostano/vistaar/internal/playback"
	"github.com/antoniostano/vistaar/internal/session"
	"github.com/antoniostano/vistaar/internal/vistaar"
	"github.com/antoniostano/vistaar/internal/voice"
)

type VoiceInfo struct {
	Provider string
	Detail   string
}

// Core is the set of components shared by the API server and the CLI.
type Core struct {
	Config      config.Config
	Logger      zerolog.Logger
	Metrics     *observability.Metrics
	Auth        *auth.Store
	Client      *vistaar.Client
	Transcriber voice.Transcriber
	Synthesizer voice.Synthesizer
	Sink        *playback.OtoSink
	Recorder    *capture.Recorder
	Voice       VoiceInfo
}

type BuildResult struct {
	*Core
	API       *httpapi.Server
	Sessions  *session.Manager
	Hub       *companion.Hub
	History   history.Store
	Telemetry *observability.Telemetry

	// Cleanup should be called on shutdown to release external resources (DB, audio device).
	Cleanup func() error
}

// NewCore builds the upstream client, speech services and audio devices.
// Devices are opened lazily on first use.
func NewCore(cfg config.Config, logger zerolog.Logger, metrics *observability.Metrics) (*Core, error) {
	store, err := auth.NewStore(auth.Config{
		TokenFile:     cfg.TokenFile,
		PublicKeyFile: cfg.JWTPublicKeyFile,
		Bypass:        cfg.BypassAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("auth store init failed: %w", err)
	}

	opts := []vistaar.Option{
		vistaar.WithTimeout(cfg.HTTPTimeout),
		vistaar.WithLogger(logger),
	}
	var observer voice.Observer
	if metrics != nil {
		opts = append(opts, vistaar.WithObserver(metrics))
		observer = metrics
	}
	client := vistaar.NewClient(cfg.APIBaseURL, store, opts...)

	setup, err := resolveVoiceProviders(cfg, client, observer)
	if err != nil {
		return nil, err
	}

	return &Core{
		Config:      cfg,
		Logger:      logger,
		Metrics:     metrics,
		Auth:        store,
		Client:      client,
		Transcriber: setup.transcriber,
		Synthesizer: setup.synthesizer,
		Sink:        playback.NewOtoSink(cfg.PlaybackSampleRate, logger),
		Recorder: capture.NewRecorder(capture.Config{
			MaxDuration:   cfg.MaxRecordingDuration,
			ChunkInterval: cfg.ChunkInterval,
			FPS:           cfg.VisualizerFPS,
		}, logger),
		Voice: VoiceInfo{Provider: setup.provider, Detail: setup.detail},
	}, nil
}

// OpenMicrophone opens the configured input device as a capture stream.
func (c *Core) OpenMicrophone(context.Context) (capture.Stream, error) {
	mic, err := capture.OpenMicrophone(capture.MicConfig{DeviceName: c.Config.AudioDevice})
	if err != nil {
		return nil, err
	}
	return mic, nil
}

func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	core, err := NewCore(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	historyStore, err := history.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("history store init failed: %w", err)
	}
	telemetry := observability.NewTelemetry(logger, metrics)

	sessions := session.NewManager(cfg.SessionInactivityTimeout, cfg.DefaultLanguage)
	hub := companion.NewHub(companion.Config{
		Sessions:           sessions,
		Chat:               core.Client,
		Synthesizer:        core.Synthesizer,
		Transcriber:        core.Transcriber,
		Sink:               core.Sink,
		History:            historyStore,
		Telemetry:          telemetry,
		Metrics:            metrics,
		Recorder:           core.Recorder,
		OpenStream:         core.OpenMicrophone,
		SuggestionInterval: cfg.SuggestionInterval,
		Logger:             logger,
	})
	sessions.SetExpireHook(func(s *session.Session) {
		hub.Release(s.ID)
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, hub, core.Transcriber, metrics, logger)

	cleanup := func() error {
		var errs []string
		hub.Close()
		if err := core.Sink.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := historyStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Core:      core,
		API:       api,
		Sessions:  sessions,
		Hub:       hub,
		History:   historyStore,
		Telemetry: telemetry,
		Cleanup:   cleanup,
	}, nil
}
