package capture

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

func newLoopMic() *Microphone {
	return &Microphone{
		samples: make(chan []float32, 4),
		stopCh:  make(chan struct{}),
		readEnd: make(chan struct{}),
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("%s did not finish", what)
	}
}

func TestReadLoopEndsAfterPersistentFailures(t *testing.T) {
	m := newLoopMic()
	unplugged := errors.New("device unavailable")
	var calls atomic.Int32
	go m.readLoop(func() error {
		calls.Add(1)
		return unplugged
	}, make([]float32, 8))

	waitClosed(t, m.readEnd, "read loop")
	if got := calls.Load(); got != maxReadFailures {
		t.Fatalf("read calls = %d, want %d", got, maxReadFailures)
	}
	if _, ok := <-m.samples; ok {
		t.Fatal("samples delivered after failures, want closed channel")
	}
	if err := m.Err(); !errors.Is(err, unplugged) {
		t.Fatalf("Err() = %v, want %v", err, unplugged)
	}
}

func TestReadLoopRecoversFromTransientErrors(t *testing.T) {
	m := newLoopMic()
	var calls atomic.Int32
	go m.readLoop(func() error {
		switch n := calls.Add(1); {
		case n == 1:
			return portaudio.InputOverflowed
		case n <= 3:
			return errors.New("glitch")
		}
		return nil
	}, []float32{0.5})

	select {
	case frame := <-m.samples:
		if len(frame) != 1 || frame[0] != 0.5 {
			t.Fatalf("frame = %v, want [0.5]", frame)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no frame after transient errors")
	}
	close(m.stopCh)
	waitClosed(t, m.readEnd, "read loop")
	if err := m.Err(); err != nil {
		t.Fatalf("Err() = %v, want nil", err)
	}
}

func TestReadLoopBackoffStopsPromptly(t *testing.T) {
	m := newLoopMic()
	go m.readLoop(func() error { return errors.New("gone") }, make([]float32, 1))
	time.Sleep(20 * time.Millisecond)
	close(m.stopCh)
	waitClosed(t, m.readEnd, "read loop")
}
