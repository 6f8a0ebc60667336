package dictation

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/audio"
	"github.com/antoniostano/vistaar/internal/auth"
	"github.com/antoniostano/vistaar/internal/capture"
	"github.com/antoniostano/vistaar/internal/protocol"
	"github.com/antoniostano/vistaar/internal/voice"
)

type stubTrack struct {
	once  sync.Once
	close func()
}

func (t *stubTrack) Stop() error {
	t.once.Do(t.close)
	return nil
}

type stubStream struct {
	samples chan []float32
	track   *stubTrack
}

func newStubStream() *stubStream {
	s := &stubStream{samples: make(chan []float32, 8)}
	s.track = &stubTrack{close: func() { close(s.samples) }}
	return s
}

func (s *stubStream) SampleRate() int           { return 8000 }
func (s *stubStream) Channels() int             { return 1 }
func (s *stubStream) Samples() <-chan []float32 { return s.samples }
func (s *stubStream) Tracks() []capture.Track   { return []capture.Track{s.track} }

type stubTranscriber struct {
	mu      sync.Mutex
	result  voice.TranscriptResult
	err     error
	audio   []byte
	gate    chan struct{}
	started chan struct{}
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string, canonical []byte) (voice.TranscriptResult, error) {
	s.mu.Lock()
	s.audio = canonical
	gate, started := s.gate, s.started
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return s.result, s.err
}

type noticeLog struct {
	mu       sync.Mutex
	keys     []string
	variants []string
}

func (n *noticeLog) emit(no protocol.Notice) {
	n.mu.Lock()
	n.keys = append(n.keys, no.Key)
	n.variants = append(n.variants, no.Variant)
	n.mu.Unlock()
}

func (n *noticeLog) variantList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.variants...)
}

func (n *noticeLog) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.keys...)
}

func newTestController(tr voice.Transcriber, open StreamOpener, notices *noticeLog) *Controller {
	rec := capture.NewRecorder(capture.Config{MaxDuration: time.Minute, ChunkInterval: 5 * time.Millisecond}, zerolog.Nop())
	return NewController(rec, open, tr, Config{SessionID: "s1", Notices: notices.emit, Logger: zerolog.Nop()})
}

func openerFor(s *stubStream) StreamOpener {
	return func(context.Context) (capture.Stream, error) { return s, nil }
}

func speak(s *stubStream) {
	samples := make([]float32, 800)
	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*300*float64(i)/8000))
	}
	s.samples <- samples
}

func TestStopAppendsTranscriptToDraft(t *testing.T) {
	stream := newStubStream()
	tr := &stubTranscriber{result: voice.TranscriptResult{Text: " कापूस लागवड ", Status: voice.TranscriptSuccess}}
	notices := &noticeLog{}
	c := newTestController(tr, openerFor(stream), notices)
	c.SetDraft("माहिती द्या:")

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.Recording() {
		t.Fatalf("Recording() = false after Start")
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyRecording", err)
	}
	speak(stream)
	time.Sleep(20 * time.Millisecond)

	res, err := c.Stop()
	if err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if res.Fallback {
		t.Fatalf("Stop() fell back to raw capture: %v", res.DecodeErr)
	}
	if got := c.Draft(); got != "माहिती द्या: कापूस लागवड" {
		t.Fatalf("Draft() = %q", got)
	}
	if size, ok := audio.WAVDataSize(tr.audio); !ok || size != 1600*2 {
		t.Fatalf("transcribed audio data size = %d (ok %v), want 3200", size, ok)
	}
	if c.Recording() {
		t.Fatalf("Recording() = true after Stop")
	}
	if len(notices.list()) != 0 {
		t.Fatalf("notices = %v, want none", notices.list())
	}
}

func TestPermissionFailureLeavesNothingOpen(t *testing.T) {
	notices := &noticeLog{}
	c := newTestController(&stubTranscriber{}, func(context.Context) (capture.Stream, error) {
		return nil, errors.New("device busy")
	}, notices)

	err := c.Start(context.Background())
	if !errors.Is(err, capture.ErrPermission) {
		t.Fatalf("Start() error = %v, want ErrPermission", err)
	}
	if c.Recording() {
		t.Fatalf("Recording() = true after permission failure")
	}
	if got := notices.list(); len(got) != 1 || got[0] != protocol.NoticeMicrophoneError {
		t.Fatalf("notices = %v, want microphoneError", got)
	}
	if got := notices.variantList(); got[0] != protocol.VariantWarning {
		t.Fatalf("notice variant = %q, want %q", got[0], protocol.VariantWarning)
	}
	if _, err := c.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop() error = %v, want ErrNotRecording", err)
	}
}

func TestUnrecognizedAudioLeavesDraft(t *testing.T) {
	cases := []struct {
		name string
		tr   *stubTranscriber
		want string
	}{
		{name: "empty", tr: &stubTranscriber{result: voice.TranscriptResult{Status: voice.TranscriptSuccess}}, want: protocol.NoticeAudioNotRecognized},
		{name: "error", tr: &stubTranscriber{err: voice.ErrTranscription, result: voice.TranscriptResult{Status: voice.TranscriptError}}, want: protocol.NoticeAudioNotRecognized},
		{name: "auth", tr: &stubTranscriber{err: auth.ErrAuthRequired, result: voice.TranscriptResult{Status: voice.TranscriptError}}, want: protocol.NoticeAuthRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stream := newStubStream()
			notices := &noticeLog{}
			c := newTestController(tc.tr, openerFor(stream), notices)
			c.SetDraft("draft")
			if err := c.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			speak(stream)
			if _, err := c.Stop(); err != nil {
				t.Fatalf("Stop() error = %v", err)
			}
			if c.Draft() != "draft" {
				t.Fatalf("Draft() = %q, want untouched", c.Draft())
			}
			if got := notices.list(); len(got) != 1 || got[0] != tc.want {
				t.Fatalf("notices = %v, want %s", got, tc.want)
			}
			if got := notices.variantList(); got[0] != protocol.VariantWarning {
				t.Fatalf("notice variant = %q, want %q", got[0], protocol.VariantWarning)
			}
		})
	}
}

func TestCancelSkipsTranscription(t *testing.T) {
	stream := newStubStream()
	tr := &stubTranscriber{result: voice.TranscriptResult{Text: "x", Status: voice.TranscriptSuccess}}
	c := newTestController(tr, openerFor(stream), &noticeLog{})
	var reasons []capture.StopReason
	c.cfg.OnResult = func(res capture.Result) { reasons = append(reasons, res.Reason) }
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	c.Cancel()
	if c.Recording() || tr.audio != nil || c.Draft() != "" {
		t.Fatalf("cancel transcribed or kept recording: recording=%v audio=%d draft=%q", c.Recording(), len(tr.audio), c.Draft())
	}
	if len(reasons) != 1 || reasons[0] != capture.StopCancelled {
		t.Fatalf("results = %v, want one cancelled", reasons)
	}
}

func TestTranscriptDroppedWhenDraftTaken(t *testing.T) {
	stream := newStubStream()
	tr := &stubTranscriber{
		result:  voice.TranscriptResult{Text: "late", Status: voice.TranscriptSuccess},
		gate:    make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := newTestController(tr, openerFor(stream), &noticeLog{})
	c.SetDraft("sent text")
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	speak(stream)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Stop()
	}()
	<-tr.started
	if got := c.TakeDraft(); got != "sent text" {
		t.Fatalf("TakeDraft() = %q", got)
	}
	close(tr.gate)
	<-done

	if c.Draft() != "" {
		t.Fatalf("Draft() = %q, want stale transcript dropped", c.Draft())
	}
}
