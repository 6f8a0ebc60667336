package visualizer

import (
	"context"
	"sync"
	"time"
)

// DefaultFPS is the frame rate of the default clock.
const DefaultFPS = 60

// LevelSource reports the current normalized loudness.
type LevelSource interface {
	Level() float64
}

// Clock delivers animation frames.
type Clock interface {
	Frames() <-chan time.Time
	Stop()
}

type tickerClock struct {
	t *time.Ticker
}

// NewFrameClock returns a clock ticking fps times per second.
func NewFrameClock(fps int) Clock {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &tickerClock{t: time.NewTicker(time.Second / time.Duration(fps))}
}

func (c *tickerClock) Frames() <-chan time.Time { return c.t.C }
func (c *tickerClock) Stop()                    { c.t.Stop() }

// Loop samples a LevelSource once per frame until cancelled.
type Loop struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	once      sync.Once
}

// Start runs onLevel once per frame of clock. The loop owns clock and
// stops it when cancelled.
func Start(ctx context.Context, src LevelSource, clock Clock, onLevel func(float64)) *Loop {
	ctx, cancel := context.WithCancel(ctx)
	l := &Loop{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(l.done)
		defer clock.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-clock.Frames():
				level := src.Level()
				l.mu.Lock()
				if !l.cancelled && onLevel != nil {
					onLevel(level)
				}
				l.mu.Unlock()
			}
		}
	}()
	return l
}

// Cancel clears the scheduled frame. onLevel is never called after Cancel
// returns. Cancel must not be called from inside onLevel.
func (l *Loop) Cancel() {
	l.once.Do(func() {
		l.mu.Lock()
		l.cancelled = true
		l.mu.Unlock()
		l.cancel()
		<-l.done
	})
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} { return l.done }
