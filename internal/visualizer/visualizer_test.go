package visualizer

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"
)

type manualClock struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{ch: make(chan time.Time)}
}

func (c *manualClock) Frames() <-chan time.Time { return c.ch }

func (c *manualClock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *manualClock) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type fixedLevel float64

func (f fixedLevel) Level() float64 { return float64(f) }

func TestAnalyserSilenceIsZero(t *testing.T) {
	a := NewAnalyser()
	a.Write(make([]float32, FFTSize))
	if got := a.Level(); got != 0 {
		t.Fatalf("Level() = %v, want 0", got)
	}
}

func TestAnalyserToneRaisesLevel(t *testing.T) {
	a := NewAnalyser()
	tone := make([]float32, FFTSize)
	for i := range tone {
		tone[i] = float32(math.Sin(2 * math.Pi * 8 * float64(i) / FFTSize))
	}

	var prev float64
	for frame := 0; frame < 10; frame++ {
		a.Write(tone)
		level := a.Level()
		if level < 0 || level > 1 {
			t.Fatalf("Level() = %v, want within [0,1]", level)
		}
		if level < prev {
			t.Fatalf("frame %d: level decreased from %v to %v under steady tone", frame, prev, level)
		}
		prev = level
	}
	if prev == 0 {
		t.Fatalf("Level() = 0 for a full-scale tone")
	}

	bins := a.ByteFrequencyData(nil)
	if len(bins) != BinCount {
		t.Fatalf("len(bins) = %d, want %d", len(bins), BinCount)
	}
	if bins[8] != 255 {
		t.Fatalf("bins[8] = %d, want 255 for the tone bin", bins[8])
	}
	if bins[64] >= bins[8] {
		t.Fatalf("bins[64] = %d, want below tone bin %d", bins[64], bins[8])
	}
}

func TestLoopEmitsPerFrameAndStopsOnCancel(t *testing.T) {
	clock := newManualClock()
	levels := make(chan float64, 8)
	loop := Start(context.Background(), fixedLevel(0.25), clock, func(v float64) {
		levels <- v
	})

	for i := 0; i < 3; i++ {
		clock.ch <- time.Now()
		select {
		case v := <-levels:
			if v != 0.25 {
				t.Fatalf("level = %v, want 0.25", v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}

	loop.Cancel()
	loop.Cancel()
	if !clock.isStopped() {
		t.Fatalf("clock not stopped after Cancel")
	}
	select {
	case clock.ch <- time.Now():
		t.Fatalf("loop still consuming frames after Cancel")
	case <-time.After(20 * time.Millisecond):
	}
	if len(levels) != 0 {
		t.Fatalf("got %d levels after Cancel, want 0", len(levels))
	}
}

func TestLoopStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clock := newManualClock()
	loop := Start(ctx, fixedLevel(1), clock, nil)
	cancel()
	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not exit after context cancel")
	}
}
