// Package config loads runtime settings from the environment, an optional
// .env file and an optional TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the vistaar client.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	AllowAnyOrigin           bool
	LogLevel                 string
	LogPretty                bool

	APIBaseURL                string
	HTTPTimeout               time.Duration
	VoiceProvider             string
	TranscribeService         string
	TranscribeFallbackService string
	DefaultLanguage           string
	TokenFile                 string
	JWTPublicKeyFile          string
	BypassAuth                bool
	SuggestionInterval        time.Duration

	MaxRecordingDuration time.Duration
	ChunkInterval        time.Duration
	VisualizerFPS        int
	AudioDevice          string
	PlaybackSampleRate   int

	DatabaseURL string

	// ConfigFile is the TOML file the defaults were read from, if any.
	ConfigFile string
}

const configFileEnv = "VISTAAR_CONFIG_FILE"

var uiLanguages = map[string]bool{"en": true, "hi": true, "mr": true}

// Load reads .env (without overriding the environment), then the TOML file
// named by VISTAAR_CONFIG_FILE, then environment variables, and validates
// the result. Environment variables win over the file.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	path := strings.TrimSpace(os.Getenv(configFileEnv))
	file, err := readFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := load(source{file: file})
	if err != nil {
		return Config{}, err
	}
	cfg.ConfigFile = path
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func load(src source) (Config, error) {
	cfg := Config{
		BindAddr:                  src.envOrDefault("APP_BIND_ADDR", "127.0.0.1:8080"),
		MetricsNamespace:          src.envOrDefault("APP_METRICS_NAMESPACE", "vistaar"),
		LogLevel:                  src.envOrDefault("APP_LOG_LEVEL", "info"),
		APIBaseURL:                src.envOrDefault("VISTAAR_API_BASE_URL", "https://prodaskvistaar.mahapocra.gov.in"),
		VoiceProvider:             strings.ToLower(src.envOrDefault("VISTAAR_VOICE_PROVIDER", "service")),
		TranscribeService:         src.envOrDefault("VISTAAR_TRANSCRIBE_SERVICE", "bhashini"),
		TranscribeFallbackService: src.envOrDefault("VISTAAR_TRANSCRIBE_FALLBACK_SERVICE", "whisper"),
		DefaultLanguage:           strings.ToLower(src.envOrDefault("VISTAAR_DEFAULT_LANGUAGE", "mr")),
		TokenFile:                 src.envOrDefault("VISTAAR_TOKEN_FILE", defaultTokenFile()),
		JWTPublicKeyFile:          src.envOrDefault("VISTAAR_JWT_PUBLIC_KEY_FILE", ""),
		AudioDevice:               src.envOrDefault("VISTAAR_AUDIO_DEVICE", ""),
		DatabaseURL:               src.envOrDefault("DATABASE_URL", ""),
		ShutdownTimeout:           15 * time.Second,
		SessionInactivityTimeout:  30 * time.Minute,
		HTTPTimeout:               60 * time.Second,
		SuggestionInterval:        10 * time.Second,
		MaxRecordingDuration:      20 * time.Second,
		ChunkInterval:             time.Second,
		VisualizerFPS:             60,
		PlaybackSampleRate:        16000,
	}

	var err error
	if cfg.ShutdownTimeout, err = src.durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SessionInactivityTimeout, err = src.durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout); err != nil {
		return Config{}, err
	}
	if cfg.AllowAnyOrigin, err = src.boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin); err != nil {
		return Config{}, err
	}
	if cfg.LogPretty, err = src.boolFromEnv("APP_LOG_PRETTY", cfg.LogPretty); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = src.durationFromEnv("VISTAAR_HTTP_TIMEOUT", cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.BypassAuth, err = src.boolFromEnv("VISTAAR_BYPASS_AUTH", cfg.BypassAuth); err != nil {
		return Config{}, err
	}
	if cfg.SuggestionInterval, err = src.durationFromEnv("VISTAAR_SUGGESTION_INTERVAL", cfg.SuggestionInterval); err != nil {
		return Config{}, err
	}
	if cfg.MaxRecordingDuration, err = src.durationFromEnv("VISTAAR_MAX_RECORDING_DURATION", cfg.MaxRecordingDuration); err != nil {
		return Config{}, err
	}
	if cfg.ChunkInterval, err = src.durationFromEnv("VISTAAR_CHUNK_INTERVAL", cfg.ChunkInterval); err != nil {
		return Config{}, err
	}
	if cfg.VisualizerFPS, err = src.intFromEnv("VISTAAR_VISUALIZER_FPS", cfg.VisualizerFPS); err != nil {
		return Config{}, err
	}
	if cfg.PlaybackSampleRate, err = src.intFromEnv("VISTAAR_PLAYBACK_SAMPLE_RATE", cfg.PlaybackSampleRate); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.HTTPTimeout <= 0 {
		return fmt.Errorf("VISTAAR_HTTP_TIMEOUT must be positive")
	}
	switch cfg.VoiceProvider {
	case "service", "mock":
	default:
		return fmt.Errorf("invalid VISTAAR_VOICE_PROVIDER: %q (expected service|mock)", cfg.VoiceProvider)
	}
	if !uiLanguages[cfg.DefaultLanguage] {
		return fmt.Errorf("VISTAAR_DEFAULT_LANGUAGE must be one of en, hi, mr")
	}
	if cfg.MaxRecordingDuration <= 0 {
		return fmt.Errorf("VISTAAR_MAX_RECORDING_DURATION must be positive")
	}
	if cfg.ChunkInterval <= 0 || cfg.ChunkInterval > cfg.MaxRecordingDuration {
		return fmt.Errorf("VISTAAR_CHUNK_INTERVAL must be positive and at most VISTAAR_MAX_RECORDING_DURATION")
	}
	if cfg.VisualizerFPS < 1 || cfg.VisualizerFPS > 240 {
		return fmt.Errorf("VISTAAR_VISUALIZER_FPS must be between 1 and 240")
	}
	if cfg.PlaybackSampleRate < 8000 || cfg.PlaybackSampleRate > 48000 {
		return fmt.Errorf("VISTAAR_PLAYBACK_SAMPLE_RATE must be between 8000 and 48000")
	}
	if cfg.SuggestionInterval < time.Second {
		return fmt.Errorf("VISTAAR_SUGGESTION_INTERVAL must be at least 1s")
	}
	return nil
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return ".vistaar-token.json"
	}
	return dir + string(os.PathSeparator) + "vistaar" + string(os.PathSeparator) + "token.json"
}

// source resolves a key from the environment, then from the config file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) envOrDefault(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) intFromEnv(key string, fallback int) (int, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func (s source) boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.lookup(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
