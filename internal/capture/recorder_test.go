package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/visualizer"
)

type stubTrack struct {
	stops  atomic.Int32
	err    error
	panics bool
	onStop func()
}

func (t *stubTrack) Stop() error {
	t.stops.Add(1)
	if t.onStop != nil {
		t.onStop()
	}
	if t.panics {
		panic("track exploded")
	}
	return t.err
}

type stubStream struct {
	rate    int
	samples chan []float32
	tracks  []Track
	once    sync.Once
}

func newStubStream(rate int, tracks ...*stubTrack) *stubStream {
	s := &stubStream{rate: rate, samples: make(chan []float32, 16)}
	for _, tr := range tracks {
		tr := tr
		prev := tr.onStop
		tr.onStop = func() {
			if prev != nil {
				prev()
			}
			s.once.Do(func() { close(s.samples) })
		}
		s.tracks = append(s.tracks, tr)
	}
	return s
}

func (s *stubStream) SampleRate() int           { return s.rate }
func (s *stubStream) Channels() int             { return 1 }
func (s *stubStream) Samples() <-chan []float32 { return s.samples }
func (s *stubStream) Tracks() []Track           { return s.tracks }

type countingClock struct {
	ch    chan time.Time
	stops atomic.Int32
}

func (c *countingClock) Frames() <-chan time.Time { return c.ch }
func (c *countingClock) Stop()                    { c.stops.Add(1) }

func newTestRecorder(maxDuration time.Duration) (*Recorder, *countingClock) {
	r := NewRecorder(Config{MaxDuration: maxDuration, ChunkInterval: 10 * time.Millisecond}, zerolog.Nop())
	clock := &countingClock{ch: make(chan time.Time)}
	r.SetFrameClock(func() visualizer.Clock { return clock })
	return r, clock
}

func tone(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 0.5
		} else {
			out[i] = -0.5
		}
	}
	return out
}

func TestStopReleasesEverythingOnce(t *testing.T) {
	rec, clock := newTestRecorder(time.Minute)
	track := &stubTrack{}
	stream := newStubStream(16000, track)

	var finishes atomic.Int32
	recording, err := rec.Start(context.Background(), stream, Options{
		OnFinish: func(Result) { finishes.Add(1) },
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stream.samples <- tone(1600)
	stream.samples <- tone(1600)
	time.Sleep(30 * time.Millisecond)

	res := recording.Stop()
	again := recording.Stop()

	if res.Reason != StopUser {
		t.Fatalf("Reason = %q, want %q", res.Reason, StopUser)
	}
	if again.Reason != StopUser || len(again.Audio) != len(res.Audio) {
		t.Fatalf("second Stop() returned a different result")
	}
	if res.Fallback {
		t.Fatalf("Fallback = true, DecodeErr = %v", res.DecodeErr)
	}
	size, ok := audio.WAVDataSize(res.Audio)
	if !ok || size != 3200*2 {
		t.Fatalf("WAVDataSize() = %d, %v, want %d", size, ok, 3200*2)
	}
	if res.Chunks < 1 {
		t.Fatalf("Chunks = %d, want >= 1", res.Chunks)
	}
	if got := track.stops.Load(); got != 1 {
		t.Fatalf("track stops = %d, want 1", got)
	}
	if got := clock.stops.Load(); got != 1 {
		t.Fatalf("visualizer clock stops = %d, want 1", got)
	}
	if got := finishes.Load(); got != 1 {
		t.Fatalf("OnFinish calls = %d, want 1", got)
	}
	if recording.Active() {
		t.Fatalf("Active() = true after Stop")
	}
	recording.mu.Lock()
	defer recording.mu.Unlock()
	if recording.stream != nil || recording.timer != nil || recording.loop != nil || recording.analyser != nil {
		t.Fatalf("references not released after Stop")
	}
}

func TestTimeoutStopsRecordingOnce(t *testing.T) {
	rec, clock := newTestRecorder(40 * time.Millisecond)
	track := &stubTrack{}
	stream := newStubStream(8000, track)

	results := make(chan Result, 2)
	recording, err := rec.Start(context.Background(), stream, Options{
		OnFinish: func(r Result) { results <- r },
	})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stream.samples <- tone(800)

	select {
	case res := <-results:
		if res.Reason != StopTimeout {
			t.Fatalf("Reason = %q, want %q", res.Reason, StopTimeout)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("recording did not time out")
	}

	// A late explicit stop must not run cleanup again.
	res := recording.Stop()
	if res.Reason != StopTimeout {
		t.Fatalf("Stop() after timeout Reason = %q, want %q", res.Reason, StopTimeout)
	}
	if got := track.stops.Load(); got != 1 {
		t.Fatalf("track stops = %d, want 1", got)
	}
	if got := clock.stops.Load(); got != 1 {
		t.Fatalf("visualizer clock stops = %d, want 1", got)
	}
	if len(results) != 0 {
		t.Fatalf("OnFinish ran more than once")
	}
}

func TestCleanupContinuesPastFailingTracks(t *testing.T) {
	rec, clock := newTestRecorder(time.Minute)
	bad := &stubTrack{panics: true}
	failing := &stubTrack{err: errors.New("device busy")}
	good := &stubTrack{}
	stream := newStubStream(16000, bad, failing, good)

	recording, err := rec.Start(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res := recording.Stop()

	if res.CleanupErr == nil {
		t.Fatalf("CleanupErr = nil, want joined track errors")
	}
	for i, tr := range []*stubTrack{bad, failing, good} {
		if got := tr.stops.Load(); got != 1 {
			t.Fatalf("track %d stops = %d, want 1", i, got)
		}
	}
	if got := clock.stops.Load(); got != 1 {
		t.Fatalf("visualizer clock stops = %d, want 1", got)
	}
}

func TestEmptyRecordingFallsBackToRawBytes(t *testing.T) {
	rec, _ := newTestRecorder(time.Minute)
	stream := newStubStream(16000, &stubTrack{})

	recording, err := rec.Start(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	res := recording.Stop()
	if !res.Fallback {
		t.Fatalf("Fallback = false, want true for a recording without samples")
	}
	if !errors.Is(res.DecodeErr, audio.ErrEmptyAudio) {
		t.Fatalf("DecodeErr = %v, want ErrEmptyAudio", res.DecodeErr)
	}
	if len(res.Audio) != audio.RawHeaderSize {
		t.Fatalf("len(Audio) = %d, want raw header only", len(res.Audio))
	}
}

func TestCancelProducesNoAudio(t *testing.T) {
	rec, _ := newTestRecorder(time.Minute)
	track := &stubTrack{}
	stream := newStubStream(16000, track)

	recording, err := rec.Start(context.Background(), stream, Options{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	stream.samples <- tone(160)
	recording.Cancel()
	res := recording.Result()
	if res.Reason != StopCancelled || res.Audio != nil {
		t.Fatalf("Cancel() result = %+v, want cancelled without audio", res)
	}
	if got := track.stops.Load(); got != 1 {
		t.Fatalf("track stops = %d, want 1", got)
	}
}

func TestStartWithoutStream(t *testing.T) {
	rec, _ := newTestRecorder(time.Minute)
	if _, err := rec.Start(context.Background(), nil, Options{}); !errors.Is(err, ErrNoStream) {
		t.Fatalf("Start(nil) error = %v, want ErrNoStream", err)
	}
}

func TestResumableTimerPauseDelaysFire(t *testing.T) {
	fired := make(chan struct{})
	rt := startResumableTimer(60*time.Millisecond, func() { close(fired) })
	time.Sleep(20 * time.Millisecond)
	rt.Pause()
	time.Sleep(80 * time.Millisecond)
	select {
	case <-fired:
		t.Fatalf("timer fired while paused")
	default:
	}
	rt.Resume()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire after Resume")
	}
}
