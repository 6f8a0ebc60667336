// Package companion runs the chat core for each session of the local API:
// conversation, answer streaming, speech playback, suggestions and
// dictation. Their state changes are published as websocket events.
package companion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/dictation"
	"github.com/antoniostano/vistaar/internal/history"
	"github.com/antoniostano/vistaar/internal/observability"
	"github.com/antoniostano/vistaar/internal/session"
	"github.com/antoniostano/vistaar/internal/voice"
)

var (
	ErrSessionEnded         = errors.New("session has ended")
	ErrDictationUnavailable = errors.New("dictation is not available")
	ErrNotSpeakable         = errors.New("message has no speakable text")
)

// ChatAPI streams answers and lists follow-up suggestions.
type ChatAPI interface {
	chat.Streamer
	chat.SuggestionSource
}

type Config struct {
	Sessions    *session.Manager
	Chat        ChatAPI
	Synthesizer voice.Synthesizer
	Transcriber voice.Transcriber
	Sink        voice.Sink
	History     history.Store
	Telemetry   *observability.Telemetry
	Metrics     *observability.Metrics
	// Recorder and OpenStream enable dictation. Either may be nil.
	Recorder           *capture.Recorder
	OpenStream         dictation.StreamOpener
	SuggestionInterval time.Duration
	Logger             zerolog.Logger
}

// Hub owns one Runtime per active session.
type Hub struct {
	cfg    Config
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	runtimes map[string]*Runtime
	closed   bool
}

func NewHub(cfg Config) *Hub {
	if cfg.SuggestionInterval <= 0 {
		cfg.SuggestionInterval = chat.DefaultSuggestionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "companion").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		runtimes: make(map[string]*Runtime),
	}
}

// Runtime returns the runtime of an active session, creating it on first use.
func (h *Hub) Runtime(sessionID string) (*Runtime, error) {
	sess, err := h.cfg.Sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusActive {
		return nil, ErrSessionEnded
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrSessionEnded
	}
	if rt, ok := h.runtimes[sessionID]; ok {
		h.mu.Unlock()
		return rt, nil
	}
	rt := h.newRuntime(sessionID)
	h.runtimes[sessionID] = rt
	h.mu.Unlock()

	h.logger.Debug().Str("session_id", sessionID).Msg("session runtime started")
	h.goBackground(func() { rt.loadSuggestions(rt.ctx) })
	return rt, nil
}

// Release stops the runtime of a session, if any. Open subscriptions end.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	rt, ok := h.runtimes[sessionID]
	delete(h.runtimes, sessionID)
	h.mu.Unlock()
	if ok {
		rt.close()
		h.logger.Debug().Str("session_id", sessionID).Msg("session runtime released")
	}
}

// Close releases every runtime and waits for background answers to end.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	runtimes := make([]*Runtime, 0, len(h.runtimes))
	for id, rt := range h.runtimes {
		runtimes = append(runtimes, rt)
		delete(h.runtimes, id)
	}
	h.mu.Unlock()

	h.cancel()
	for _, rt := range runtimes {
		rt.close()
	}
	h.wg.Wait()
}

// FindMessage looks a message up across all live sessions.
func (h *Hub) FindMessage(messageID string) (string, chat.Message, bool) {
	h.mu.Lock()
	runtimes := make([]*Runtime, 0, len(h.runtimes))
	for _, rt := range h.runtimes {
		runtimes = append(runtimes, rt)
	}
	h.mu.Unlock()
	for _, rt := range runtimes {
		if m, ok := rt.conv.Get(messageID); ok {
			return rt.SessionID, m, true
		}
	}
	return "", chat.Message{}, false
}

// Feedback records a like or dislike for a bot message.
func (h *Hub) Feedback(messageID string, kind observability.FeedbackKind, comment string) error {
	switch kind {
	case observability.FeedbackLike, observability.FeedbackDislike:
	default:
		return observability.ErrInvalidFeedback
	}
	sessionID, msg, ok := h.FindMessage(messageID)
	if !ok || msg.IsUser {
		return chat.ErrMessageNotFound
	}
	if h.cfg.Telemetry == nil {
		return nil
	}
	return h.cfg.Telemetry.Feedback(sessionID, msg.QuestionID, observability.Feedback{
		Kind:     kind,
		Comment:  strings.TrimSpace(comment),
		Question: msg.QuestionText,
		Answer:   msg.Text,
	})
}

// History lists the archived messages of a session, oldest first.
func (h *Hub) History(ctx context.Context, sessionID string, limit int) ([]history.Record, error) {
	if h.cfg.History == nil {
		return []history.Record{}, nil
	}
	if limit <= 0 {
		limit = history.DefaultHistoryLimit
	}
	return h.cfg.History.SessionHistory(ctx, sessionID, limit)
}

// Active returns the number of live runtimes.
func (h *Hub) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.runtimes)
}

// goBackground runs fn unless the hub is closing. Close waits for it.
func (h *Hub) goBackground(fn func()) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.wg.Add(1)
	h.mu.Unlock()
	go func() {
		defer h.wg.Done()
		fn()
	}()
	return true
}
