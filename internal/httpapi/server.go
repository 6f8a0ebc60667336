package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/companion"
	"github.com/antoniostano/vistaar/internal/config"
	"github.com/antoniostano/vistaar/internal/observability"
	"github.com/antoniostano/vistaar/internal/session"
	"github.com/antoniostano/vistaar/internal/voice"
)

type Server struct {
	cfg         config.Config
	sessions    *session.Manager
	hub         *companion.Hub
	transcriber voice.Transcriber
	metrics     *observability.Metrics
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, hub *companion.Hub, transcriber voice.Transcriber, metrics *observability.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		hub:         hub,
		transcriber: transcriber,
		metrics:     metrics,
		logger:      logger.With().Str("component", "httpapi").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a session unless configured otherwise.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/sessions", s.handleCreateSession)
	r.Route("/v1/sessions/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetSession)
		r.Patch("/", s.handleUpdateSession)
		r.Post("/end", s.handleEndSession)
		r.Get("/messages", s.handleListMessages)
		r.Post("/messages", s.handleSendMessage)
		r.Get("/history", s.handleHistory)
		r.Get("/suggestions", s.handleSuggestions)
		r.Post("/messages/{mid}/tts/toggle", s.handleToggleAudio)
		r.Post("/tts/stop", s.handleStopAudio)
		r.Post("/dictation/start", s.handleStartDictation)
		r.Post("/dictation/stop", s.handleStopDictation)
		r.Post("/dictation/cancel", s.handleCancelDictation)
		r.Get("/events", s.handleEventsWS)
	})
	r.Post("/v1/messages/{mid}/feedback", s.handleFeedback)
	r.Post("/v1/detect-language", s.handleDetectLanguage)
	r.Post("/v1/transcribe", s.handleTranscribe)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"api_base_url":     s.cfg.APIBaseURL,
		"transcription":    s.transcriber != nil,
		"live_runtimes":    s.hub.Active(),
		"default_language": s.cfg.DefaultLanguage,
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
