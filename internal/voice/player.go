package voice

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/langdetect"
	"github.com/antoniostano/vistaar/internal/protocol"
)

// PlaybackState is the audio state of one message.
type PlaybackState string

const (
	StateIdle    PlaybackState = "idle"
	StateLoading PlaybackState = "loading"
	StateReady   PlaybackState = "ready"
	StatePlaying PlaybackState = "playing"
)

// StateChange is published whenever a message's playback state changes.
type StateChange struct {
	MessageID string        `json:"message_id"`
	State     PlaybackState `json:"state"`
}

// Sink plays one clip at a time.
type Sink interface {
	// Play stops whatever is playing and starts audio. onDone runs once when
	// the clip finishes or is stopped, with a non-nil error only on failure.
	// onDone is not called when Play itself returns an error.
	Play(audio []byte, onDone func(error)) error
	Stop()
}

type PlayerConfig struct {
	SessionID string
	// Language picks the synthesis language for a text. Defaults to the
	// language heuristic.
	Language func(text string) string
	Notices  protocol.NoticeFunc
	Observer Observer
	Logger   zerolog.Logger
}

// Player caches synthesized speech per message and drives the shared sink.
// At most one message is playing at any time.
type Player struct {
	synth     Synthesizer
	sink      Sink
	sessionID string
	language  func(string) string
	notices   protocol.NoticeFunc
	observer  Observer
	logger    zerolog.Logger

	// handoff serializes sink calls with the state that describes them.
	handoff sync.Mutex

	mu        sync.Mutex
	cache     map[string][]byte
	states    map[string]PlaybackState
	pending   map[string]bool
	current   string
	token     uint64
	outbox    []StateChange
	listeners []func(StateChange)

	dispatch sync.Mutex
}

func NewPlayer(synth Synthesizer, sink Sink, cfg PlayerConfig) *Player {
	p := &Player{
		synth:     synth,
		sink:      sink,
		sessionID: cfg.SessionID,
		language:  cfg.Language,
		notices:   cfg.Notices,
		observer:  cfg.Observer,
		logger:    cfg.Logger.With().Str("component", "tts_player").Str("session_id", cfg.SessionID).Logger(),
		cache:     make(map[string][]byte),
		states:    make(map[string]PlaybackState),
		pending:   make(map[string]bool),
	}
	if p.language == nil {
		p.language = func(text string) string { return langdetect.Classify(text).Code }
	}
	if p.observer == nil {
		p.observer = noopObserver{}
	}
	return p
}

// OnStateChange registers fn for every state change, in order. fn must not
// call back into the Player.
func (p *Player) OnStateChange(fn func(StateChange)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// State returns the playback state of id.
func (p *Player) State(id string) PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.states[id]; ok {
		return s
	}
	return StateIdle
}

// Current returns the id of the playing message, if any.
func (p *Player) Current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Cached reports whether audio for id is cached.
func (p *Player) Cached(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.cache[id]
	return ok
}

// Toggle stops id if it is playing, otherwise stops whatever is playing and
// plays id.
func (p *Player) Toggle(ctx context.Context, text, id string) error {
	p.mu.Lock()
	playing := p.current == id
	p.mu.Unlock()

	p.Stop()
	if playing {
		return nil
	}
	return p.Play(ctx, text, id)
}

// Play synthesizes (or reuses) audio for id and plays it, unless the request
// was superseded by Stop while loading.
func (p *Player) Play(ctx context.Context, text, id string) error {
	p.mu.Lock()
	p.pending[id] = true
	audio, hit := p.cache[id]
	if hit {
		delete(p.pending, id)
	} else {
		p.setStateLocked(id, StateLoading)
	}
	p.mu.Unlock()
	p.flush()

	if hit {
		return p.start(id, audio)
	}

	audio, err := p.fetch(ctx, text)

	p.mu.Lock()
	if err != nil {
		delete(p.pending, id)
		p.setStateLocked(id, StateIdle)
		p.mu.Unlock()
		p.flush()
		p.logger.Warn().Err(err).Str("message_id", id).Msg("speech synthesis failed")
		p.notices.Emit(protocol.Notice{Key: protocol.NoticeErrorPlayingAudio, Variant: protocol.VariantWarning})
		return err
	}
	if cached, ok := p.cache[id]; ok {
		audio = cached
	} else {
		p.cache[id] = audio
	}
	if !p.pending[id] {
		if p.states[id] == StateLoading {
			p.setStateLocked(id, StateReady)
		}
		p.mu.Unlock()
		p.flush()
		p.logger.Debug().Str("message_id", id).Msg("discarding superseded speech")
		return nil
	}
	delete(p.pending, id)
	p.mu.Unlock()

	return p.start(id, audio)
}

// Stop clears every pending request and returns the playing message to ready.
func (p *Player) Stop() {
	p.handoff.Lock()
	defer p.handoff.Unlock()

	p.mu.Lock()
	clear(p.pending)
	cur := p.current
	if cur != "" {
		p.token++
		p.current = ""
		p.setStateLocked(cur, StateReady)
	}
	p.mu.Unlock()
	p.flush()

	if cur != "" {
		p.sink.Stop()
	}
}

func (p *Player) fetch(ctx context.Context, text string) ([]byte, error) {
	clean := speechText(text)
	if clean == "" {
		return nil, fmt.Errorf("%w: nothing to speak", ErrSynthesis)
	}
	start := time.Now()
	audio, err := p.synth.Synthesize(ctx, SpeechRequest{
		SessionID:  p.sessionID,
		Text:       clean,
		TargetLang: p.language(clean),
	})
	p.observer.ObserveSynthesis(time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	return audio, nil
}

func (p *Player) start(id string, audio []byte) error {
	p.handoff.Lock()
	defer p.handoff.Unlock()

	p.mu.Lock()
	if prev := p.current; prev != "" && prev != id {
		p.setStateLocked(prev, StateReady)
	}
	p.token++
	tok := p.token
	p.current = id
	p.setStateLocked(id, StatePlaying)
	p.mu.Unlock()
	p.flush()

	err := p.sink.Play(audio, func(err error) { p.finished(tok, id, err) })
	if err == nil {
		return nil
	}

	p.mu.Lock()
	if p.token == tok {
		p.current = ""
		p.setStateLocked(id, StateReady)
	}
	p.mu.Unlock()
	p.flush()
	p.logger.Warn().Err(err).Str("message_id", id).Msg("playback failed")
	p.notices.Emit(protocol.Notice{Key: protocol.NoticeErrorPlayingAudio, Variant: protocol.VariantWarning})
	return fmt.Errorf("%w: %w", ErrPlayback, err)
}

// finished handles the sink's completion callback. Callbacks from clips
// that were stopped or replaced are ignored.
func (p *Player) finished(tok uint64, id string, err error) {
	p.mu.Lock()
	if p.token != tok {
		p.mu.Unlock()
		return
	}
	p.current = ""
	p.setStateLocked(id, StateReady)
	p.mu.Unlock()
	p.flush()

	if err != nil {
		p.logger.Warn().Err(err).Str("message_id", id).Msg("playback ended with error")
		p.notices.Emit(protocol.Notice{Key: protocol.NoticeErrorPlayingAudio, Variant: protocol.VariantWarning})
	}
}

func (p *Player) setStateLocked(id string, s PlaybackState) {
	if p.states[id] == s {
		return
	}
	p.states[id] = s
	p.outbox = append(p.outbox, StateChange{MessageID: id, State: s})
}

// flush delivers queued state changes outside p.mu, preserving order.
func (p *Player) flush() {
	p.dispatch.Lock()
	defer p.dispatch.Unlock()

	p.mu.Lock()
	events := p.outbox
	p.outbox = nil
	listeners := p.listeners
	p.mu.Unlock()

	for _, ev := range events {
		p.observer.ObservePlaybackState(ev.State)
		for _, fn := range listeners {
			fn(ev)
		}
	}
}
