package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/history"
	"github.com/antoniostano/vistaar/internal/langdetect"
	"github.com/antoniostano/vistaar/internal/protocol"
	"github.com/antoniostano/vistaar/internal/reliability"
	"github.com/antoniostano/vistaar/internal/vistaar"
)

var (
	ErrSendInFlight  = errors.New("a message is already being answered")
	ErrEmptyQuery    = errors.New("message text is empty")
	ErrEmptyResponse = reliability.Sentinel(reliability.KindEmptyResponse, "empty response from API")
)

// Streamer delivers a streamed answer frame by frame.
type Streamer interface {
	StreamChat(ctx context.Context, req vistaar.ChatRequest, onFrame vistaar.FrameHandler) (string, error)
}

type SuggestionSource interface {
	Suggestions(ctx context.Context, sessionID, targetLang string) ([]string, error)
}

type Archive interface {
	SaveMessage(ctx context.Context, record history.Record) error
}

// Telemetry receives the analytics events of a question.
type Telemetry interface {
	Question(sessionID, questionID, text string)
	Response(sessionID, questionID, question, answer string)
	Error(sessionID, questionID, detail string)
}

type Observer interface {
	ObserveFirstFrame(elapsed time.Duration)
	ObserveAnswer(err error)
}

type SenderConfig struct {
	SessionID string
	// TargetLang is the UI language answers are requested in.
	TargetLang func() string
	Location   func() *vistaar.Location
	// SourceLang detects the language of the question. Defaults to the
	// language heuristic.
	SourceLang    func(text string) string
	Suggestions   SuggestionSource
	OnSuggestions func([]string)
	Archive       Archive
	Telemetry     Telemetry
	Observer      Observer
	Logger        zerolog.Logger
}

// Sender answers questions into a Conversation, one at a time.
type Sender struct {
	conv     *Conversation
	streamer Streamer
	cfg      SenderConfig
	logger   zerolog.Logger

	mu       sync.Mutex
	inFlight bool
}

func NewSender(conv *Conversation, streamer Streamer, cfg SenderConfig) *Sender {
	if cfg.TargetLang == nil {
		cfg.TargetLang = func() string { return "mr" }
	}
	if cfg.Location == nil {
		cfg.Location = func() *vistaar.Location { return nil }
	}
	if cfg.SourceLang == nil {
		cfg.SourceLang = func(text string) string { return langdetect.Classify(text).Code }
	}
	return &Sender{
		conv:     conv,
		streamer: streamer,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("component", "chat_sender").Str("session_id", cfg.SessionID).Logger(),
	}
}

// Busy reports whether an answer is being streamed.
func (s *Sender) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Turn is one question with its reserved user and bot messages.
type Turn struct {
	UserID     string
	BotID      string
	QuestionID string

	sender *Sender
	query  string
	once   sync.Once
}

// Prepare adds the user message and a loading bot placeholder. The caller
// must Run the turn exactly once; until it finishes further sends fail with
// ErrSendInFlight.
func (s *Sender) Prepare(text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSendInFlight
	}
	s.inFlight = true
	s.mu.Unlock()

	user := s.conv.Add(text, true)
	bot := s.conv.Add("", false, loading)
	return &Turn{
		UserID:     user.ID,
		BotID:      bot.ID,
		QuestionID: uuid.NewString(),
		sender:     s,
		query:      text,
	}, nil
}

// Send prepares and runs a turn, returning the final bot message.
func (s *Sender) Send(ctx context.Context, text string) (Message, error) {
	turn, err := s.Prepare(text)
	if err != nil {
		return Message{}, err
	}
	return turn.Run(ctx)
}

// Run streams the answer into the bot message. Later calls return the
// current bot message without sending again.
func (t *Turn) Run(ctx context.Context) (Message, error) {
	var (
		msg Message
		err error
		ran bool
	)
	t.once.Do(func() {
		ran = true
		defer t.sender.release()
		msg, err = t.sender.run(ctx, t)
	})
	if !ran {
		msg, _ = t.sender.conv.Get(t.BotID)
	}
	return msg, err
}

func (s *Sender) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

func (s *Sender) run(ctx context.Context, t *Turn) (Message, error) {
	logger := s.logger.With().Str("message_id", t.BotID).Str("question_id", t.QuestionID).Logger()
	s.question(t)
	s.archive(ctx, history.Record{ID: t.UserID, SessionID: s.cfg.SessionID, QuestionID: t.QuestionID, Role: history.RoleUser, Content: t.query})

	if _, err := s.conv.Update(t.BotID, func(m *Message) {
		m.IsLoading = false
		m.IsStreaming = true
		m.QuestionID = t.QuestionID
		m.QuestionText = t.query
	}); err != nil {
		return Message{}, err
	}

	req := vistaar.ChatRequest{
		Query:      t.query,
		SessionID:  s.cfg.SessionID,
		SourceLang: s.cfg.SourceLang(t.query),
		TargetLang: s.cfg.TargetLang(),
		Location:   s.cfg.Location(),
	}
	start := time.Now()
	frames := 0
	answer, err := s.streamer.StreamChat(ctx, req, func(f vistaar.Frame) error {
		if frames == 0 && s.cfg.Observer != nil {
			s.cfg.Observer.ObserveFirstFrame(time.Since(start))
		}
		frames++
		_, uerr := s.conv.Update(t.BotID, func(m *Message) {
			m.Text = f.Accumulated
			m.IsStreaming = true
		})
		return uerr
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = ErrEmptyResponse
	}
	if s.cfg.Observer != nil {
		s.cfg.Observer.ObserveAnswer(err)
	}
	if err != nil {
		key := protocol.NoticeAPIError
		detail := "API error: " + err.Error()
		if errors.Is(err, ErrEmptyResponse) {
			key = protocol.NoticeEmptyResponse
			detail = "Empty response from API"
		}
		msg, _ := s.conv.Update(t.BotID, func(m *Message) {
			m.Text = ""
			m.IsLoading = false
			m.IsStreaming = false
			m.IsErrorMessage = true
			m.ErrorTranslationKey = key
		})
		if s.cfg.Telemetry != nil {
			s.cfg.Telemetry.Error(s.cfg.SessionID, t.QuestionID, detail)
		}
		s.archive(ctx, history.Record{ID: t.BotID, SessionID: s.cfg.SessionID, QuestionID: t.QuestionID, Role: history.RoleBot, ErrorKey: key})
		logger.Warn().Err(err).Int("frames", frames).Msg("answer failed")
		if errors.Is(err, ErrEmptyResponse) {
			return msg, err
		}
		return msg, fmt.Errorf("send message: %w", err)
	}

	msg, _ := s.conv.Update(t.BotID, func(m *Message) {
		m.Text = answer
		m.IsStreaming = false
	})
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.Response(s.cfg.SessionID, t.QuestionID, t.query, answer)
	}
	s.archive(ctx, history.Record{ID: t.BotID, SessionID: s.cfg.SessionID, QuestionID: t.QuestionID, Role: history.RoleBot, Content: answer})
	logger.Debug().Int("frames", frames).Dur("duration", time.Since(start)).Msg("answer complete")

	s.refreshSuggestions(ctx)
	return msg, nil
}

func (s *Sender) question(t *Turn) {
	if s.cfg.Telemetry != nil {
		s.cfg.Telemetry.Question(s.cfg.SessionID, t.QuestionID, t.query)
	}
}

func (s *Sender) archive(ctx context.Context, record history.Record) {
	if s.cfg.Archive == nil {
		return
	}
	if err := s.cfg.Archive.SaveMessage(ctx, record); err != nil {
		s.logger.Warn().Err(err).Str("message_id", record.ID).Msg("history save failed")
	}
}

// refreshSuggestions replaces the suggestion list after a successful answer.
// Failures keep the previous list.
func (s *Sender) refreshSuggestions(ctx context.Context) {
	if s.cfg.Suggestions == nil || s.cfg.OnSuggestions == nil {
		return
	}
	items, err := s.cfg.Suggestions.Suggestions(ctx, s.cfg.SessionID, s.cfg.TargetLang())
	if err != nil {
		s.logger.Debug().Err(err).Msg("suggestions unavailable")
		return
	}
	if len(items) > 0 {
		s.cfg.OnSuggestions(items)
	}
}
