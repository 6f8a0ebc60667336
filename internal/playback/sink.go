// Package playback is the single shared audio output for synthesized speech.
package playback

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/audio"
)

const (
	DefaultSampleRate = audio.CanonicalSampleRate
	pollInterval      = 20 * time.Millisecond
)

var ErrClosed = errors.New("playback sink closed")

// clip is one playing buffer.
type clip interface {
	Play()
	Pause()
	IsPlaying() bool
	Err() error
	Close() error
}

// device creates clips from 16-bit little-endian mono PCM.
type device interface {
	NewClip(pcm io.Reader) clip
}

type otoDevice struct {
	ctx *oto.Context
}

func (d otoDevice) NewClip(pcm io.Reader) clip { return d.ctx.NewPlayer(pcm) }

// OtoSink plays one clip at a time. Starting a clip stops and releases the
// previous one.
type OtoSink struct {
	rate   int
	logger zerolog.Logger

	openOnce sync.Once
	open     func() (device, error)
	dev      device
	openErr  error

	mu      sync.Mutex
	current *playing
	closed  bool
}

type playing struct {
	clip   clip
	onDone func(error)
	once   sync.Once
	stop   chan struct{}
}

func (p *playing) finish(err error) {
	p.once.Do(func() {
		close(p.stop)
		_ = p.clip.Close()
		if p.onDone != nil {
			p.onDone(err)
		}
	})
}

// NewOtoSink prepares a sink at rate. The audio device is opened on first
// use because oto allows one context per process.
func NewOtoSink(rate int, logger zerolog.Logger) *OtoSink {
	if rate <= 0 {
		rate = DefaultSampleRate
	}
	s := &OtoSink{
		rate:   rate,
		logger: logger.With().Str("component", "playback").Logger(),
	}
	s.open = func() (device, error) {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   rate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			return nil, fmt.Errorf("create oto context: %w", err)
		}
		<-ready
		s.logger.Info().Int("sample_rate", rate).Msg("audio output initialized")
		return otoDevice{ctx: ctx}, nil
	}
	return s
}

func newSinkWithDevice(rate int, dev device) *OtoSink {
	return &OtoSink{
		rate:   rate,
		logger: zerolog.Nop(),
		open:   func() (device, error) { return dev, nil },
	}
}

// Play decodes data (WAV, MP3 or FLAC), resamples it to the device rate and
// starts it, stopping whatever was playing.
func (s *OtoSink) Play(data []byte, onDone func(error)) error {
	buf, err := audio.Decode(data)
	if err != nil {
		return fmt.Errorf("decode speech: %w", err)
	}
	mono := audio.Resample(buf, s.rate)
	pcm := audio.QuantizePCM16(mono.Channels[0])

	s.openOnce.Do(func() { s.dev, s.openErr = s.open() })
	if s.openErr != nil {
		return s.openErr
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	prev := s.current
	p := &playing{
		clip:   s.dev.NewClip(bytes.NewReader(pcm)),
		onDone: onDone,
		stop:   make(chan struct{}),
	}
	s.current = p
	s.mu.Unlock()

	if prev != nil {
		prev.clip.Pause()
		prev.finish(nil)
	}

	p.clip.Play()
	go s.watch(p)
	s.logger.Debug().Int("bytes", len(pcm)).Dur("duration", mono.Duration()).Msg("playback started")
	return nil
}

// watch reports completion once the clip drains.
func (s *OtoSink) watch(p *playing) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			if p.clip.IsPlaying() {
				continue
			}
			s.mu.Lock()
			if s.current == p {
				s.current = nil
			}
			s.mu.Unlock()
			p.finish(p.clip.Err())
			return
		}
	}
}

// Stop halts the current clip, if any.
func (s *OtoSink) Stop() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p != nil {
		p.clip.Pause()
		p.finish(nil)
	}
}

// Close stops playback and rejects further clips.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Stop()
	return nil
}
