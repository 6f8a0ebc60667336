package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/companion"
	"github.com/antoniostano/vistaar/internal/dictation"
	"github.com/antoniostano/vistaar/internal/langdetect"
	"github.com/antoniostano/vistaar/internal/observability"
	"github.com/antoniostano/vistaar/internal/reliability"
	"github.com/antoniostano/vistaar/internal/voice"
)

const maxAudioUpload = 16 << 20

func (s *Server) handleToggleAudio(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	mid := chi.URLParam(r, "mid")
	if err := rt.ToggleAudio(r.Context(), mid); err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			respondError(w, http.StatusNotFound, "message_not_found", err.Error())
		case errors.Is(err, companion.ErrNotSpeakable):
			respondError(w, http.StatusConflict, "not_speakable", err.Error())
		case errors.Is(err, voice.ErrSynthesis), errors.Is(err, voice.ErrPlayback):
			respondError(w, http.StatusBadGateway, string(reliability.Classify(err)), err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"message_id": mid,
		"state":      rt.PlaybackState(mid),
	})
}

func (s *Server) handleStopAudio(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	rt.StopAudio()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleStartDictation(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	// The recording outlives this request.
	if err := rt.StartDictation(context.WithoutCancel(r.Context())); err != nil {
		switch {
		case errors.Is(err, companion.ErrDictationUnavailable):
			respondError(w, http.StatusNotImplemented, "dictation_unavailable", err.Error())
		case errors.Is(err, dictation.ErrAlreadyRecording):
			respondError(w, http.StatusConflict, "already_recording", err.Error())
		case errors.Is(err, capture.ErrPermission):
			respondError(w, http.StatusForbidden, "microphone_error", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "recording"})
}

func (s *Server) handleStopDictation(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	draft, err := rt.StopDictation()
	if err != nil {
		switch {
		case errors.Is(err, companion.ErrDictationUnavailable):
			respondError(w, http.StatusNotImplemented, "dictation_unavailable", err.Error())
		case errors.Is(err, dictation.ErrNotRecording):
			respondError(w, http.StatusConflict, "not_recording", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "internal", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"draft": draft})
}

func (s *Server) handleCancelDictation(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	rt.CancelDictation()
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

type feedbackRequest struct {
	Type    string `json:"type"`
	Comment string `json:"comment"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	kind := observability.FeedbackKind(strings.ToLower(strings.TrimSpace(req.Type)))
	err := s.hub.Feedback(chi.URLParam(r, "mid"), kind, req.Comment)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	case errors.Is(err, observability.ErrInvalidFeedback):
		respondError(w, http.StatusBadRequest, "invalid_feedback", err.Error())
	case errors.Is(err, chat.ErrMessageNotFound):
		respondError(w, http.StatusNotFound, "message_not_found", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

type detectRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleDetectLanguage(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res := langdetect.Classify(req.Text)
	respondJSON(w, http.StatusOK, map[string]string{
		"code": res.Code,
		"name": res.Name,
	})
}

// handleTranscribe accepts a raw audio body (WAV, MP3, FLAC or raw capture)
// and returns its transcript.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.transcriber == nil {
		respondError(w, http.StatusNotImplemented, "transcription_unavailable", "no transcriber configured")
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxAudioUpload+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if len(data) > maxAudioUpload {
		respondError(w, http.StatusRequestEntityTooLarge, "audio_too_large", "audio exceeds 16 MiB")
		return
	}
	wav, err := audio.Canonicalize(data)
	if err != nil {
		respondError(w, http.StatusUnsupportedMediaType, "unsupported_audio", err.Error())
		return
	}

	res, err := s.transcriber.Transcribe(r.Context(), r.URL.Query().Get("session_id"), wav)
	if err != nil {
		status, code := http.StatusBadGateway, "transcription_failed"
		if reliability.Classify(err) == reliability.KindAuth {
			status, code = http.StatusUnauthorized, "auth_required"
		}
		s.logger.Warn().Err(err).Int("bytes", len(wav)).Msg("transcription failed")
		respondJSON(w, status, map[string]any{
			"error":  err.Error(),
			"code":   code,
			"status": res.Status,
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"text":      res.Text,
		"lang_code": res.LanguageCode,
		"status":    res.Status,
	})
}
