package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML layout. Every field maps to one environment key.
type fileConfig struct {
	App struct {
		BindAddr                 string `toml:"bind_addr"`
		ShutdownTimeout          string `toml:"shutdown_timeout"`
		SessionInactivityTimeout string `toml:"session_inactivity_timeout"`
		MetricsNamespace         string `toml:"metrics_namespace"`
		AllowAnyOrigin           *bool  `toml:"allow_any_origin"`
		LogLevel                 string `toml:"log_level"`
		LogPretty                *bool  `toml:"log_pretty"`
	} `toml:"app"`
	Vistaar struct {
		APIBaseURL                string `toml:"api_base_url"`
		HTTPTimeout               string `toml:"http_timeout"`
		VoiceProvider             string `toml:"voice_provider"`
		TranscribeService         string `toml:"transcribe_service"`
		TranscribeFallbackService string `toml:"transcribe_fallback_service"`
		DefaultLanguage           string `toml:"default_language"`
		TokenFile                 string `toml:"token_file"`
		JWTPublicKeyFile          string `toml:"jwt_public_key_file"`
		BypassAuth                *bool  `toml:"bypass_auth"`
		SuggestionInterval        string `toml:"suggestion_interval"`
	} `toml:"vistaar"`
	Audio struct {
		MaxRecordingDuration string `toml:"max_recording_duration"`
		ChunkInterval        string `toml:"chunk_interval"`
		VisualizerFPS        *int   `toml:"visualizer_fps"`
		Device               string `toml:"device"`
		PlaybackSampleRate   *int   `toml:"playback_sample_rate"`
	} `toml:"audio"`
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
}

// readFile decodes path into environment-keyed defaults. An empty path
// yields no defaults. Unknown keys are rejected.
func readFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	var fc fileConfig
	md, err := toml.DecodeFile(path, &fc)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return fc.env(), nil
}

func (fc fileConfig) env() map[string]string {
	out := map[string]string{
		"APP_BIND_ADDR":                       fc.App.BindAddr,
		"APP_SHUTDOWN_TIMEOUT":                fc.App.ShutdownTimeout,
		"APP_SESSION_INACTIVITY_TIMEOUT":      fc.App.SessionInactivityTimeout,
		"APP_METRICS_NAMESPACE":               fc.App.MetricsNamespace,
		"APP_LOG_LEVEL":                       fc.App.LogLevel,
		"VISTAAR_API_BASE_URL":                fc.Vistaar.APIBaseURL,
		"VISTAAR_HTTP_TIMEOUT":                fc.Vistaar.HTTPTimeout,
		"VISTAAR_VOICE_PROVIDER":              fc.Vistaar.VoiceProvider,
		"VISTAAR_TRANSCRIBE_SERVICE":          fc.Vistaar.TranscribeService,
		"VISTAAR_TRANSCRIBE_FALLBACK_SERVICE": fc.Vistaar.TranscribeFallbackService,
		"VISTAAR_DEFAULT_LANGUAGE":            fc.Vistaar.DefaultLanguage,
		"VISTAAR_TOKEN_FILE":                  fc.Vistaar.TokenFile,
		"VISTAAR_JWT_PUBLIC_KEY_FILE":         fc.Vistaar.JWTPublicKeyFile,
		"VISTAAR_SUGGESTION_INTERVAL":         fc.Vistaar.SuggestionInterval,
		"VISTAAR_MAX_RECORDING_DURATION":      fc.Audio.MaxRecordingDuration,
		"VISTAAR_CHUNK_INTERVAL":              fc.Audio.ChunkInterval,
		"VISTAAR_AUDIO_DEVICE":                fc.Audio.Device,
		"DATABASE_URL":                        fc.Database.URL,
	}
	setBool(out, "APP_ALLOW_ANY_ORIGIN", fc.App.AllowAnyOrigin)
	setBool(out, "APP_LOG_PRETTY", fc.App.LogPretty)
	setBool(out, "VISTAAR_BYPASS_AUTH", fc.Vistaar.BypassAuth)
	setInt(out, "VISTAAR_VISUALIZER_FPS", fc.Audio.VisualizerFPS)
	setInt(out, "VISTAAR_PLAYBACK_SAMPLE_RATE", fc.Audio.PlaybackSampleRate)
	return out
}

func setBool(m map[string]string, key string, v *bool) {
	if v != nil {
		m[key] = strconv.FormatBool(*v)
	}
}

func setInt(m map[string]string, key string, v *int) {
	if v != nil {
		m[key] = strconv.Itoa(*v)
	}
}
