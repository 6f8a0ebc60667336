package companion

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/chat"
	"github.com/antoniostano/vistaar/internal/dictation"
	"github.com/antoniostano/vistaar/internal/protocol"
	"github.com/antoniostano/vistaar/internal/vistaar"
	"github.com/antoniostano/vistaar/internal/voice"
)

// System event codes published by a Runtime.
const (
	EventDraft            = "draft"
	EventRecordingStarted = "recording_started"
	EventRecordingStopped = "recording_stopped"
)

// Runtime is the chat core of one session.
type Runtime struct {
	SessionID string

	hub       *Hub
	ctx       context.Context
	cancel    context.CancelFunc
	logger    zerolog.Logger
	conv      *chat.Conversation
	sender    *chat.Sender
	player    *voice.Player
	cycler    *chat.SuggestionCycler
	dictation *dictation.Controller
	events    *broadcaster
}

func (h *Hub) newRuntime(sessionID string) *Runtime {
	ctx, cancel := context.WithCancel(h.ctx)
	rt := &Runtime{
		SessionID: sessionID,
		hub:       h,
		ctx:       ctx,
		cancel:    cancel,
		logger:    h.logger.With().Str("session_id", sessionID).Logger(),
		conv:      chat.NewConversation(),
		events:    newBroadcaster(h.cfg.Metrics),
	}

	rt.conv.OnUpdate(func(m chat.Message) {
		rt.events.publish(protocol.MessageUpdate{Type: protocol.TypeMessageUpdate, SessionID: sessionID, Message: m})
	})
	rt.cycler = chat.NewSuggestionCycler(h.cfg.SuggestionInterval, func(items []string, current string) {
		rt.events.publish(protocol.Suggestions{Type: protocol.TypeSuggestions, SessionID: sessionID, Items: items, Current: current})
	})

	senderCfg := chat.SenderConfig{
		SessionID:     sessionID,
		TargetLang:    func() string { return h.cfg.Sessions.Language(sessionID) },
		Location:      func() *vistaar.Location { return h.cfg.Sessions.Location(sessionID) },
		Suggestions:   h.cfg.Chat,
		OnSuggestions: rt.setSuggestions,
		Logger:        h.cfg.Logger,
	}
	playerCfg := voice.PlayerConfig{
		SessionID: sessionID,
		Notices:   rt.notice,
		Logger:    h.cfg.Logger,
	}
	if h.cfg.History != nil {
		senderCfg.Archive = h.cfg.History
	}
	if h.cfg.Telemetry != nil {
		senderCfg.Telemetry = h.cfg.Telemetry
	}
	if h.cfg.Metrics != nil {
		senderCfg.Observer = h.cfg.Metrics
		playerCfg.Observer = h.cfg.Metrics
	}
	rt.sender = chat.NewSender(rt.conv, h.cfg.Chat, senderCfg)

	rt.player = voice.NewPlayer(h.cfg.Synthesizer, h.cfg.Sink, playerCfg)
	rt.player.OnStateChange(func(c voice.StateChange) {
		rt.events.publish(protocol.PlaybackState{Type: protocol.TypePlaybackState, SessionID: sessionID, MessageID: c.MessageID, State: string(c.State)})
	})

	if h.cfg.Recorder != nil && h.cfg.OpenStream != nil && h.cfg.Transcriber != nil {
		rt.dictation = dictation.NewController(h.cfg.Recorder, h.cfg.OpenStream, h.cfg.Transcriber, dictation.Config{
			SessionID: sessionID,
			Notices:   rt.notice,
			OnLevel: func(level float64) {
				rt.events.publish(protocol.AudioLevel{Type: protocol.TypeAudioLevel, SessionID: sessionID, Level: level})
			},
			OnDraft: func(draft string) { rt.system(EventDraft, draft) },
			OnRecording: func(on bool) {
				if on {
					rt.system(EventRecordingStarted, "")
					return
				}
				rt.system(EventRecordingStopped, "")
			},
			OnResult: rt.recorded,
			Logger:   h.cfg.Logger,
		})
	}
	return rt
}

// Subscribe returns the session event stream. The channel is closed when
// the runtime is released or cancel is called.
func (rt *Runtime) Subscribe(buffer int) (<-chan any, func()) {
	return rt.events.subscribe(buffer)
}

func (rt *Runtime) Messages() []chat.Message { return rt.conv.Messages() }

func (rt *Runtime) Message(id string) (chat.Message, bool) { return rt.conv.Get(id) }

// Send adds the question to the conversation and answers it in the
// background. The returned turn carries the new message ids.
func (rt *Runtime) Send(text string) (*chat.Turn, error) {
	turn, err := rt.sender.Prepare(text)
	if err != nil {
		return nil, err
	}
	sessions := rt.hub.cfg.Sessions
	if err := sessions.StartQuestion(rt.SessionID, turn.QuestionID); err != nil {
		rt.logger.Warn().Err(err).Str("question_id", turn.QuestionID).Msg("question not tracked on session")
	}
	started := rt.hub.goBackground(func() {
		defer func() { _ = sessions.FinishQuestion(rt.SessionID, turn.QuestionID) }()
		if _, err := turn.Run(rt.ctx); err != nil {
			rt.logger.Debug().Err(err).Str("question_id", turn.QuestionID).Msg("answer ended with error")
		}
	})
	if !started {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _ = turn.Run(ctx)
		_ = sessions.FinishQuestion(rt.SessionID, turn.QuestionID)
		return nil, ErrSessionEnded
	}
	return turn, nil
}

// Busy reports whether an answer is streaming.
func (rt *Runtime) Busy() bool { return rt.sender.Busy() }

// ToggleAudio plays or stops the speech of a finished bot message.
func (rt *Runtime) ToggleAudio(ctx context.Context, messageID string) error {
	m, ok := rt.conv.Get(messageID)
	if !ok {
		return chat.ErrMessageNotFound
	}
	if m.IsUser || m.IsErrorMessage || m.IsLoading || m.IsStreaming || strings.TrimSpace(m.Text) == "" {
		return ErrNotSpeakable
	}
	return rt.player.Toggle(ctx, m.Text, m.ID)
}

func (rt *Runtime) StopAudio() { rt.player.Stop() }

func (rt *Runtime) PlaybackState(messageID string) voice.PlaybackState {
	return rt.player.State(messageID)
}

// Suggestions returns the current list and the highlighted entry.
func (rt *Runtime) Suggestions() ([]string, string) {
	return rt.cycler.Items(), rt.cycler.Current()
}

func (rt *Runtime) StartDictation(ctx context.Context) error {
	if rt.dictation == nil {
		return ErrDictationUnavailable
	}
	err := rt.dictation.Start(ctx)
	if errors.Is(err, capture.ErrPermission) && rt.hub.cfg.Metrics != nil {
		rt.hub.cfg.Metrics.ObserveRecording("permission")
	}
	return err
}

// StopDictation ends the recording and returns the draft once the
// transcript has been applied.
func (rt *Runtime) StopDictation() (string, error) {
	if rt.dictation == nil {
		return "", ErrDictationUnavailable
	}
	if _, err := rt.dictation.Stop(); err != nil {
		return "", err
	}
	return rt.dictation.Draft(), nil
}

func (rt *Runtime) CancelDictation() {
	if rt.dictation != nil {
		rt.dictation.Cancel()
	}
}

// TakeDraft returns and clears the dictated draft.
func (rt *Runtime) TakeDraft() string {
	if rt.dictation == nil {
		return ""
	}
	return rt.dictation.TakeDraft()
}

func (rt *Runtime) loadSuggestions(ctx context.Context) {
	items, err := rt.hub.cfg.Chat.Suggestions(ctx, rt.SessionID, rt.hub.cfg.Sessions.Language(rt.SessionID))
	if err != nil {
		rt.logger.Debug().Err(err).Msg("initial suggestions unavailable")
		return
	}
	if len(items) > 0 && len(rt.cycler.Items()) == 0 {
		rt.setSuggestions(items)
	}
}

// setSuggestions restarts the rotation unless the runtime was released.
func (rt *Runtime) setSuggestions(items []string) {
	if rt.ctx.Err() != nil {
		return
	}
	rt.cycler.Set(items)
}

func (rt *Runtime) notice(n protocol.Notice) {
	rt.events.publish(protocol.NoticeEvent{Type: protocol.TypeNotice, SessionID: rt.SessionID, Notice: n})
}

func (rt *Runtime) system(code, detail string) {
	rt.events.publish(protocol.SystemEvent{Type: protocol.TypeSystemEvent, SessionID: rt.SessionID, Code: code, Detail: detail})
}

func (rt *Runtime) recorded(res capture.Result) {
	if rt.hub.cfg.Metrics == nil {
		return
	}
	outcome := string(res.Reason)
	if res.Fallback {
		outcome = "fallback"
	}
	rt.hub.cfg.Metrics.ObserveRecording(outcome)
}

func (rt *Runtime) close() {
	rt.cancel()
	rt.CancelDictation()
	rt.cycler.Stop()
	rt.player.Stop()
	rt.events.close()
}
