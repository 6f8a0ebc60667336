package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/visualizer"
)

const (
	DefaultMaxDuration   = 20 * time.Second
	DefaultChunkInterval = time.Second
)

// StopReason records what ended a recording.
type StopReason string

const (
	StopUser      StopReason = "user"
	StopTimeout   StopReason = "timeout"
	StopCancelled StopReason = "cancelled"
)

// Result is the finalized output of one recording.
type Result struct {
	Reason StopReason
	// Audio holds the canonical WAV, or the raw captured bytes when Fallback
	// is set.
	Audio     []byte
	Fallback  bool
	DecodeErr error
	Chunks    int
	Duration  time.Duration
	// CleanupErr joins errors raised by the cleanup steps.
	CleanupErr error
}

type Config struct {
	MaxDuration   time.Duration
	ChunkInterval time.Duration
	FPS           int
}

// Options are per-recording callbacks.
type Options struct {
	// OnLevel receives the visualizer level once per frame. It must not
	// stop the recording.
	OnLevel func(float64)
	// OnFinish runs once after the recording is finalized, whatever stopped it.
	OnFinish func(Result)
}

type Recorder struct {
	cfg      Config
	logger   zerolog.Logger
	newClock func() visualizer.Clock
}

func NewRecorder(cfg Config, logger zerolog.Logger) *Recorder {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	if cfg.ChunkInterval <= 0 {
		cfg.ChunkInterval = DefaultChunkInterval
	}
	r := &Recorder{
		cfg:    cfg,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
	r.newClock = func() visualizer.Clock { return visualizer.NewFrameClock(cfg.FPS) }
	return r
}

// SetFrameClock overrides the visualizer clock factory.
func (r *Recorder) SetFrameClock(newClock func() visualizer.Clock) {
	if newClock != nil {
		r.newClock = newClock
	}
}

// Recording is the state of one capture. It is never reused.
type Recording struct {
	logger   zerolog.Logger
	onFinish func(Result)

	mu        sync.Mutex
	stream    Stream
	chunks    [][]byte
	current   []byte
	startedAt time.Time
	timer     *resumableTimer
	loop      *visualizer.Loop
	analyser  *visualizer.Analyser
	active    bool
	paused    bool

	stopCapture chan struct{}
	captureDone chan struct{}

	finishOnce sync.Once
	done       chan struct{}
	result     Result
}

// Start begins capturing stream in fixed-interval chunks. The recording
// ends on Stop, Cancel, or when the max duration elapses.
func (r *Recorder) Start(ctx context.Context, stream Stream, opts Options) (*Recording, error) {
	if stream == nil {
		return nil, ErrNoStream
	}
	rec := &Recording{
		logger:      r.logger,
		onFinish:    opts.OnFinish,
		stream:      stream,
		current:     audio.RawHeader(stream.SampleRate(), stream.Channels()),
		startedAt:   time.Now(),
		analyser:    visualizer.NewAnalyser(),
		active:      true,
		stopCapture: make(chan struct{}),
		captureDone: make(chan struct{}),
		done:        make(chan struct{}),
	}

	go rec.capture(stream.Samples(), r.cfg.ChunkInterval)
	rec.loop = visualizer.Start(ctx, rec.analyser, r.newClock(), opts.OnLevel)
	rec.mu.Lock()
	rec.timer = startResumableTimer(r.cfg.MaxDuration, func() { rec.finish(StopTimeout) })
	rec.mu.Unlock()

	r.logger.Debug().
		Int("sample_rate", stream.SampleRate()).
		Int("channels", stream.Channels()).
		Dur("max_duration", r.cfg.MaxDuration).
		Msg("recording started")
	return rec, nil
}

func (rec *Recording) capture(samples <-chan []float32, interval time.Duration) {
	defer close(rec.captureDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-rec.stopCapture:
			rec.flushChunk()
			return
		case <-ticker.C:
			rec.flushChunk()
		case frame, ok := <-samples:
			if !ok {
				rec.flushChunk()
				return
			}
			rec.mu.Lock()
			if rec.paused {
				rec.mu.Unlock()
				continue
			}
			rec.current = audio.AppendFloat32LE(rec.current, frame)
			analyser := rec.analyser
			rec.mu.Unlock()
			if analyser != nil {
				analyser.Write(frame)
			}
		}
	}
}

func (rec *Recording) flushChunk() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.current) == 0 {
		return
	}
	rec.chunks = append(rec.chunks, rec.current)
	rec.current = nil
}

// Stop finalizes the recording and returns its result. Calling Stop after
// the recording has already finished returns the same result.
func (rec *Recording) Stop() Result {
	rec.finish(StopUser)
	<-rec.done
	return rec.result
}

// Cancel releases the recording without producing audio.
func (rec *Recording) Cancel() {
	rec.finish(StopCancelled)
	<-rec.done
}

// Pause suspends capture and the max-duration timer.
func (rec *Recording) Pause() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.timer == nil {
		return
	}
	rec.paused = true
	rec.timer.Pause()
}

// Resume continues a paused recording.
func (rec *Recording) Resume() {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.timer == nil {
		return
	}
	rec.paused = false
	rec.timer.Resume()
}

// Done is closed once the recording is finalized.
func (rec *Recording) Done() <-chan struct{} { return rec.done }

// Result returns the finalized result. It is only meaningful after Done.
func (rec *Recording) Result() Result {
	<-rec.done
	return rec.result
}

// Active reports whether the recording is still capturing.
func (rec *Recording) Active() bool {
	select {
	case <-rec.done:
		return false
	default:
		return true
	}
}

func (rec *Recording) finish(reason StopReason) {
	finished := false
	rec.finishOnce.Do(func() {
		finished = true
		res := Result{Reason: reason}
		res.CleanupErr = rec.cleanup()

		rec.mu.Lock()
		chunks := rec.chunks
		rec.chunks = nil
		res.Chunks = len(chunks)
		res.Duration = time.Since(rec.startedAt)
		rec.mu.Unlock()

		if reason != StopCancelled {
			raw := concat(chunks)
			wav, err := audio.Canonicalize(raw)
			if err != nil {
				// Keep the user's recording even when post-processing fails.
				res.Audio = raw
				res.Fallback = true
				res.DecodeErr = err
				rec.logger.Warn().Err(err).Int("bytes", len(raw)).Msg("canonicalize failed, submitting raw capture")
			} else {
				res.Audio = wav
			}
		}

		rec.result = res
		close(rec.done)
		rec.logger.Debug().
			Str("reason", string(reason)).
			Int("chunks", res.Chunks).
			Int("bytes", len(res.Audio)).
			Dur("duration", res.Duration).
			Msg("recording finished")
	})
	if finished && rec.onFinish != nil {
		rec.onFinish(rec.result)
	}
}

// cleanup runs every release step even when an earlier one fails or panics.
func (rec *Recording) cleanup() error {
	rec.mu.Lock()
	timer, loop, stream, active := rec.timer, rec.loop, rec.stream, rec.active
	rec.active = false
	rec.mu.Unlock()

	var errs []error
	step := func(name string, fn func() error) {
		defer func() {
			if p := recover(); p != nil {
				errs = append(errs, fmt.Errorf("%s: panic: %v", name, p))
			}
		}()
		if err := fn(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	step("stop timer", func() error {
		if timer != nil {
			timer.Stop()
		}
		return nil
	})
	step("cancel visualizer", func() error {
		if loop != nil {
			loop.Cancel()
		}
		return nil
	})
	step("stop recorder", func() error {
		if active {
			close(rec.stopCapture)
			<-rec.captureDone
		}
		return nil
	})
	if stream != nil {
		for i, track := range stream.Tracks() {
			track := track
			step(fmt.Sprintf("stop track %d", i), track.Stop)
		}
	}
	step("release references", func() error {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.timer = nil
		rec.loop = nil
		rec.stream = nil
		rec.analyser = nil
		return nil
	})
	return errors.Join(errs...)
}

func concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
