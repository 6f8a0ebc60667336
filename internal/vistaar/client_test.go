package vistaar

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type staticCreds struct {
	value string
	err   error
}

func (c staticCreds) Credential() (string, error) { return c.value, c.err }

// chunkReader returns one chunk per Read call.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

func (r *chunkReader) Close() error { return nil }

func chunks(parts ...string) *chunkReader {
	r := &chunkReader{}
	for _, p := range parts {
		r.chunks = append(r.chunks, []byte(p))
	}
	return r
}

func collect(t *testing.T, body io.Reader) ([]Frame, string) {
	t.Helper()
	var frames []Frame
	final, err := consumeStream(body, func(f Frame) error {
		frames = append(frames, f)
		return nil
	})
	if err != nil {
		t.Fatalf("consumeStream() error = %v", err)
	}
	return frames, final
}

func TestConsumeStreamSnapshotsReplace(t *testing.T) {
	frames, final := collect(t, chunks(`{"response":"A"}`, `{"response":"AB"}`))
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Accumulated != "A" || frames[1].Accumulated != "AB" {
		t.Fatalf("accumulated = %q, %q, want %q, %q", frames[0].Accumulated, frames[1].Accumulated, "A", "AB")
	}
	if frames[1].Kind != FrameSnapshot || frames[1].Text != "AB" {
		t.Fatalf("frame[1] = %+v, want snapshot AB", frames[1])
	}
	if final != "AB" {
		t.Fatalf("final = %q, want %q", final, "AB")
	}
}

func TestConsumeStreamFragmentsAppend(t *testing.T) {
	frames, final := collect(t, chunks("Hel", "lo"))
	if final != "Hello" {
		t.Fatalf("final = %q, want %q", final, "Hello")
	}
	if frames[0].Text != "Hel" || frames[1].Text != "lo" {
		t.Fatalf("fragments forwarded = %q, %q, want raw chunks", frames[0].Text, frames[1].Text)
	}
}

func TestConsumeStreamMixedFrames(t *testing.T) {
	frames, final := collect(t, chunks("x", `{"response":"A"}`, "B", `{"other":1}`))
	want := []string{"x", "A", "AB"}
	if len(frames) != len(want) {
		t.Fatalf("frames = %d, want %d", len(frames), len(want))
	}
	for i, f := range frames {
		if f.Accumulated != want[i] {
			t.Fatalf("frame %d accumulated = %q, want %q", i, f.Accumulated, want[i])
		}
	}
	if final != "AB" {
		t.Fatalf("final = %q, want %q", final, "AB")
	}
}

func TestConsumeStreamIgnoresJSONWithoutResponse(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
		frames int
	}{
		{name: "status object", chunks: []string{`{"response":"A"}`, `{"status":"complete"}`}, want: "A", frames: 1},
		{name: "empty response", chunks: []string{`{"response":"AB"}`, `{"response":""}`}, want: "AB", frames: 1},
		{name: "non-string response", chunks: []string{`{"response":"AB"}`, `{"response":5}`}, want: "AB", frames: 1},
		{name: "json scalar", chunks: []string{"Hi", `null`}, want: "Hi", frames: 1},
		{name: "only ignored", chunks: []string{`{"status":"start"}`}, want: "", frames: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, final := collect(t, chunks(tt.chunks...))
			if final != tt.want || len(frames) != tt.frames {
				t.Fatalf("final = %q with %d frames, want %q with %d", final, len(frames), tt.want, tt.frames)
			}
		})
	}
}

func TestParseFrameKinds(t *testing.T) {
	tests := []struct {
		chunk string
		want  FrameKind
	}{
		{chunk: `{"response":"A"}`, want: FrameSnapshot},
		{chunk: `{"response":""}`, want: FrameIgnored},
		{chunk: `{"status":"complete"}`, want: FrameIgnored},
		{chunk: `{"response":`, want: FrameFragment},
		{chunk: "plain text", want: FrameFragment},
	}
	for _, tt := range tests {
		if got := ParseFrame(tt.chunk); got.Kind != tt.want {
			t.Fatalf("ParseFrame(%q).Kind = %q, want %q", tt.chunk, got.Kind, tt.want)
		}
	}
	if got := (Frame{Kind: FrameIgnored}).Apply("kept"); got != "kept" {
		t.Fatalf("ignored Apply() = %q, want kept", got)
	}
}

func TestConsumeStreamCarriesSplitRunes(t *testing.T) {
	word := []byte("नमस्ते")
	r := &chunkReader{chunks: [][]byte{word[:4], word[4:]}}
	frames, final := collect(t, r)
	if final != "नमस्ते" {
		t.Fatalf("final = %q, want %q", final, "नमस्ते")
	}
	for _, f := range frames {
		if !utf8Valid(f.Text) {
			t.Fatalf("frame text %q split a rune", f.Text)
		}
	}
}

func utf8Valid(s string) bool {
	return strings.ToValidUTF8(s, "�") == s
}

func TestConsumeStreamHandlerErrorAborts(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	_, err := consumeStream(chunks("a", "b", "c"), func(Frame) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("consumeStream() = %v after %d calls, want stop after 1", err, calls)
	}
}

func TestStreamChatSendsQueryAndCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != chatPath {
			t.Errorf("path = %q, want %q", r.URL.Path, chatPath)
		}
		q := r.URL.Query()
		if q.Get("query") != "पाऊस कधी येईल" || q.Get("session_id") != "s1" || q.Get("location") != "18.52,73.85" {
			t.Errorf("query = %v", q)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
		}
		_, _ = w.Write([]byte(`{"response":"लवकरच"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticCreds{value: "Bearer tok"})
	answer, err := c.StreamChat(context.Background(), ChatRequest{
		Query:      "पाऊस कधी येईल",
		SessionID:  "s1",
		SourceLang: "mr",
		TargetLang: "mr",
		Location:   &Location{Latitude: 18.52, Longitude: 73.85},
	}, nil)
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	if answer != "लवकरच" {
		t.Fatalf("StreamChat() = %q, want %q", answer, "लवकरच")
	}
}

func TestStreamChatNon2xxFailsBeforeFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	called := false
	_, err := c.StreamChat(context.Background(), ChatRequest{Query: "q"}, func(Frame) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrStream) {
		t.Fatalf("StreamChat() error = %v, want ErrStream", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("StreamChat() error = %v, want StatusError 502", err)
	}
	if called {
		t.Fatalf("frame handler called for a failed response")
	}
}

func TestChatResponseNilBody(t *testing.T) {
	_, err := readChatResponse(&http.Response{StatusCode: http.StatusOK}, nil)
	if !errors.Is(err, ErrBodyUnreadable) || !errors.Is(err, ErrStream) {
		t.Fatalf("readChatResponse() error = %v, want ErrBodyUnreadable", err)
	}
}

func TestMissingCredentialSendsNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }))
	defer srv.Close()

	denied := errors.New("authentication required")
	c := NewClient(srv.URL, staticCreds{err: denied})
	if _, err := c.StreamChat(context.Background(), ChatRequest{Query: "q"}, nil); !errors.Is(err, denied) {
		t.Fatalf("StreamChat() error = %v, want credential error", err)
	}
	if _, err := c.Transcribe(context.Background(), TranscribeRequest{}); !errors.Is(err, denied) {
		t.Fatalf("Transcribe() error = %v, want credential error", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("server hits = %d, want 0", hits.Load())
	}
}

func TestTranscribePostsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != transcribePath {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var req TranscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.AudioContent != "UklGRg==" || req.ServiceType != "bhashini" || req.SessionID != "s1" {
			t.Errorf("payload = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(TranscribeResponse{Text: "नमस्कार", LangCode: "mr", Status: "success"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	got, err := c.Transcribe(context.Background(), TranscribeRequest{AudioContent: "UklGRg==", ServiceType: "bhashini", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got.Text != "नमस्कार" || got.LangCode != "mr" || got.Status != "success" {
		t.Fatalf("Transcribe() = %+v", got)
	}
}

func TestSynthesizeReturnsAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SynthesizeRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TargetLang != "hi" || req.Text != "नमस्ते" {
			t.Errorf("payload = %+v", req)
		}
		_ = json.NewEncoder(w).Encode(SynthesizeResponse{Status: "success", AudioData: "AAAA", SessionID: req.SessionID})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	got, err := c.Synthesize(context.Background(), SynthesizeRequest{SessionID: "s1", Text: "नमस्ते", TargetLang: "hi"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if got.AudioData != "AAAA" || got.SessionID != "s1" {
		t.Fatalf("Synthesize() = %+v", got)
	}
}

func TestSuggestionsRetriesRetryableStatus(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Query().Get("target_lang") != "mr" {
			t.Errorf("target_lang = %q, want default mr", r.URL.Query().Get("target_lang"))
		}
		_ = json.NewEncoder(w).Encode([]string{"कापूस लागवड?", "हवामान?"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	got, err := c.Suggestions(context.Background(), "s1", "")
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if len(got) != 2 || hits.Load() != 2 {
		t.Fatalf("Suggestions() = %v after %d hits, want 2 items after 2 hits", got, hits.Load())
	}
}

func TestSuggestionsAcceptsQuestionObjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"question":"पीक विमा?"},"हवामान?",{"question":""}]`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, nil).Suggestions(context.Background(), "s1", "mr")
	if err != nil {
		t.Fatalf("Suggestions() error = %v", err)
	}
	if len(got) != 2 || got[0] != "पीक विमा?" || got[1] != "हवामान?" {
		t.Fatalf("Suggestions() = %q, want two questions", got)
	}
}

func TestSuggestionsDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, WithRetry(3, time.Millisecond, 5*time.Millisecond))
	if _, err := c.Suggestions(context.Background(), "s1", "en"); err == nil {
		t.Fatalf("Suggestions() error = nil, want status error")
	}
	if hits.Load() != 1 {
		t.Fatalf("hits = %d, want 1", hits.Load())
	}
}

func TestStreamChatOutlivesCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i, frame := range []string{`{"response":"A"}`, `{"response":"AB"}`, `{"response":"ABC"}`} {
			if i > 0 {
				time.Sleep(150 * time.Millisecond)
			}
			_, _ = io.WriteString(w, frame)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, staticCreds{value: "Bearer t"}, WithHTTPClient(&http.Client{Timeout: 200 * time.Millisecond}))
	var seen []string
	answer, err := c.StreamChat(context.Background(), ChatRequest{Query: "q", SessionID: "s"}, func(f Frame) error {
		seen = append(seen, f.Accumulated)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v (seen %q)", err, seen)
	}
	if answer != "ABC" {
		t.Fatalf("answer = %q, want ABC (seen %q)", answer, seen)
	}
}

func TestStreamChatBoundsWaitForHeaders(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, staticCreds{value: "Bearer t"}, WithTimeout(100*time.Millisecond))
	_, err := c.StreamChat(context.Background(), ChatRequest{Query: "q", SessionID: "s"}, nil)
	if !errors.Is(err, ErrStream) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("StreamChat() error = %v, want stream error wrapping deadline", err)
	}
}
