package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/companion"
	"github.com/antoniostano/vistaar/internal/history"
	"github.com/antoniostano/vistaar/internal/session"
	"github.com/antoniostano/vistaar/internal/vistaar"
)

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess, err := s.sessions.Create(req)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("created").Inc()
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Language:        sess.Language,
		Location:        sess.Location,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

type updateSessionRequest struct {
	Language *string          `json:"language"`
	Location *vistaar.Location `json:"location"`
	// ClearLocation drops a previously shared location.
	ClearLocation bool `json:"clear_location"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Language != nil {
		if err := s.sessions.SetLanguage(id, *req.Language); err != nil {
			s.respondSessionError(w, err)
			return
		}
	}
	if req.Location != nil || req.ClearLocation {
		loc := req.Location
		if req.ClearLocation {
			loc = nil
		}
		if err := s.sessions.SetLocation(id, loc); err != nil {
			s.respondSessionError(w, err)
			return
		}
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		s.respondSessionError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.hub.Release(id)
	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": rt.SessionID,
		"messages":   rt.Messages(),
		"busy":       rt.Busy(),
	})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

type sendMessageResponse struct {
	SessionID     string `json:"session_id"`
	QuestionID    string `json:"question_id"`
	UserMessageID string `json:"user_message_id"`
	BotMessageID  string `json:"bot_message_id"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	turn, err := rt.Send(req.Text)
	if err != nil {
		s.respondSendError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sendMessageResponse{
		SessionID:     rt.SessionID,
		QuestionID:    turn.QuestionID,
		UserMessageID: turn.UserID,
		BotMessageID:  turn.BotID,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.Get(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	limit := history.DefaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	records, err := s.hub.History(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "history_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"messages":   records,
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.runtime(w, r)
	if !ok {
		return
	}
	items, current := rt.Suggestions()
	if items == nil {
		items = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"items":   items,
		"current": current,
	})
}

// runtime resolves the session runtime and touches the session. It writes
// the error response itself.
func (s *Server) runtime(w http.ResponseWriter, r *http.Request) (*companion.Runtime, bool) {
	id := chi.URLParam(r, "id")
	rt, err := s.hub.Runtime(id)
	if err != nil {
		s.respondSessionError(w, err)
		return nil, false
	}
	_ = s.sessions.Touch(id)
	return rt, true
}

func (s *Server) respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, companion.ErrSessionEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	case errors.Is(err, session.ErrUnsupportedLanguage), errors.Is(err, session.ErrInvalidLocation):
		respondError(w, http.StatusBadRequest, "invalid_session", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *Server) respondSendError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyQuery):
		respondError(w, http.StatusBadRequest, "empty_message", err.Error())
	case errors.Is(err, chat.ErrSendInFlight):
		respondError(w, http.StatusConflict, "send_in_flight", err.Error())
	default:
		s.respondSessionError(w, err)
	}
}
