// Package dictation turns a microphone recording into text appended to the
// message draft.
package dictation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/protocol"
	"github.com/antoniostano/vistaar/internal/reliability"
	"github.com/antoniostano/vistaar/internal/voice"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

const transcribeTimeout = 30 * time.Second

// StreamOpener acquires a capture stream, usually the microphone.
type StreamOpener func(ctx context.Context) (capture.Stream, error)

type Config struct {
	SessionID string
	Notices   protocol.NoticeFunc
	// OnLevel receives the visualizer level while recording.
	OnLevel func(float64)
	// OnDraft receives the draft after every change made by dictation.
	OnDraft func(string)
	// OnRecording reports recording start and end.
	OnRecording func(bool)
	// OnResult receives every finalized recording, cancelled ones included.
	OnResult func(capture.Result)
	Logger   zerolog.Logger
}

// Controller owns at most one recording at a time and the draft it
// dictates into.
type Controller struct {
	recorder    *capture.Recorder
	open        StreamOpener
	transcriber voice.Transcriber
	cfg         Config
	logger      zerolog.Logger

	mu      sync.Mutex
	draft   string
	current *capture.Recording
	gen     uint64
}

func NewController(recorder *capture.Recorder, open StreamOpener, transcriber voice.Transcriber, cfg Config) *Controller {
	return &Controller{
		recorder:    recorder,
		open:        open,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      cfg.Logger.With().Str("component", "dictation").Str("session_id", cfg.SessionID).Logger(),
	}
}

// Start opens the stream and begins recording. Any failure to acquire the
// stream is reported as capture.ErrPermission and leaves nothing open.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return ErrAlreadyRecording
	}

	stream, err := c.open(ctx)
	if err != nil {
		c.cfg.Notices.Emit(protocol.Notice{Key: protocol.NoticeMicrophoneError, Variant: protocol.VariantWarning})
		if errors.Is(err, capture.ErrPermission) {
			return err
		}
		return fmt.Errorf("%w: %w", capture.ErrPermission, err)
	}

	c.gen++
	gen := c.gen
	var rec *capture.Recording
	rec, err = c.recorder.Start(ctx, stream, capture.Options{
		OnLevel:  c.cfg.OnLevel,
		OnFinish: func(res capture.Result) { c.finished(ctx, &rec, gen, res) },
	})
	if err != nil {
		for _, tr := range stream.Tracks() {
			_ = tr.Stop()
		}
		c.cfg.Notices.Emit(protocol.Notice{Key: protocol.NoticeMicrophoneError, Variant: protocol.VariantWarning})
		return fmt.Errorf("start recording: %w", err)
	}
	c.current = rec
	if c.cfg.OnRecording != nil {
		c.cfg.OnRecording(true)
	}
	return nil
}

// Stop ends the recording and returns once its transcript, if any, has been
// appended to the draft.
func (c *Controller) Stop() (capture.Result, error) {
	c.mu.Lock()
	rec := c.current
	c.mu.Unlock()
	if rec == nil {
		return capture.Result{}, ErrNotRecording
	}
	return rec.Stop(), nil
}

// Cancel discards the current recording.
func (c *Controller) Cancel() {
	c.mu.Lock()
	rec := c.current
	c.mu.Unlock()
	if rec != nil {
		rec.Cancel()
	}
}

func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// TakeDraft returns the draft and clears it. A transcript still in flight
// is dropped.
func (c *Controller) TakeDraft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	text := c.draft
	c.draft = ""
	c.gen++
	return text
}

// finished runs once per recording. The transcript is only applied when no
// newer recording started and the draft was not taken in the meantime.
func (c *Controller) finished(ctx context.Context, rec **capture.Recording, gen uint64, res capture.Result) {
	c.mu.Lock()
	if c.current == *rec {
		c.current = nil
	}
	c.mu.Unlock()
	if c.cfg.OnRecording != nil {
		c.cfg.OnRecording(false)
	}
	if c.cfg.OnResult != nil {
		c.cfg.OnResult(res)
	}
	if res.Reason == capture.StopCancelled {
		return
	}
	if res.Fallback {
		c.logger.Warn().Err(res.DecodeErr).Msg("submitting raw capture")
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), transcribeTimeout)
	defer cancel()
	tr, err := c.transcriber.Transcribe(tctx, c.cfg.SessionID, res.Audio)
	text := strings.TrimSpace(tr.Text)
	if err != nil || tr.Status != voice.TranscriptSuccess || text == "" {
		key := protocol.NoticeAudioNotRecognized
		if reliability.Classify(err) == reliability.KindAuth {
			key = protocol.NoticeAuthRequired
		}
		c.cfg.Notices.Emit(protocol.Notice{Key: key, Variant: protocol.VariantWarning})
		c.logger.Info().Err(err).Str("status", string(tr.Status)).Msg("audio not recognized")
		return
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.logger.Debug().Msg("draft changed during transcription, transcript dropped")
		return
	}
	if strings.TrimSpace(c.draft) == "" {
		c.draft = text
	} else {
		c.draft = strings.TrimRight(c.draft, " ") + " " + text
	}
	draft := c.draft
	c.mu.Unlock()
	if c.cfg.OnDraft != nil {
		c.cfg.OnDraft(draft)
	}
}
