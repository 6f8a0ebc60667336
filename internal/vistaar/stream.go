package vistaar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
	"unicode/utf8"

	"github.com/antoniostano/vistaar/internal/reliability"
)

var (
	ErrStream         = reliability.Sentinel(reliability.KindStream, "chat stream failed")
	ErrBodyUnreadable = errors.New("response body is not readable")
)

const streamReadSize = 32 << 10

type ChatRequest struct {
	Query      string
	SessionID  string
	SourceLang string
	TargetLang string
	Location   *Location
}

func (r ChatRequest) values() url.Values {
	q := url.Values{}
	q.Set("session_id", r.SessionID)
	q.Set("query", r.Query)
	q.Set("source_lang", r.SourceLang)
	q.Set("target_lang", r.TargetLang)
	if r.Location != nil {
		q.Set("location", r.Location.String())
	}
	return q
}

type FrameKind string

const (
	// FrameSnapshot carries the whole answer so far and replaces it.
	FrameSnapshot FrameKind = "snapshot"
	// FrameFragment is raw text appended to the answer.
	FrameFragment FrameKind = "fragment"
	// FrameIgnored is parseable JSON without response text. It leaves the
	// answer unchanged and is not delivered to the handler.
	FrameIgnored FrameKind = "ignored"
)

// Frame is one read from the chat stream.
type Frame struct {
	Kind FrameKind
	Text string
	// Accumulated is the answer to display after applying this frame.
	Accumulated string
}

// ParseFrame classifies one chunk. A JSON object with a non-empty string
// "response" is a snapshot. Any other valid JSON (status objects, an empty
// response) is ignored. Everything else is a fragment of raw text.
func ParseFrame(chunk string) Frame {
	var v any
	if err := json.Unmarshal([]byte(chunk), &v); err != nil {
		return Frame{Kind: FrameFragment, Text: chunk}
	}
	if obj, ok := v.(map[string]any); ok {
		if text, ok := obj["response"].(string); ok && text != "" {
			return Frame{Kind: FrameSnapshot, Text: text}
		}
	}
	return Frame{Kind: FrameIgnored}
}

// Apply returns the accumulator after f.
func (f Frame) Apply(acc string) string {
	switch f.Kind {
	case FrameSnapshot:
		return f.Text
	case FrameIgnored:
		return acc
	}
	return acc + f.Text
}

// FrameHandler receives frames in arrival order. Returning an error aborts
// the stream.
type FrameHandler func(Frame) error

// StreamChat sends a query and reads the answer incrementally. It returns
// the final accumulated answer at end of stream.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest, onFrame FrameHandler) (answer string, err error) {
	start := time.Now()
	defer func() { c.observe(chatPath, start, err) }()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	httpReq, err := c.newRequest(ctx, http.MethodGet, chatPath, req.values(), nil)
	if err != nil {
		return "", err
	}

	// Only the wait for headers is bounded. The body stays open for as
	// long as the answer keeps streaming, until ctx ends.
	var headerTimer *time.Timer
	if c.timeout > 0 {
		headerTimer = time.AfterFunc(c.timeout, func() { cancel(errHeaderTimeout) })
	}
	res, err := c.http.Do(httpReq)
	if headerTimer != nil && !headerTimer.Stop() && err == nil {
		// The timer fired as headers arrived; ctx is already cancelled.
		res.Body.Close()
		err = context.Cause(ctx)
	}
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, errHeaderTimeout) {
			err = cause
		}
		return "", fmt.Errorf("%w: send request: %w", ErrStream, err)
	}
	return readChatResponse(res, onFrame)
}

var errHeaderTimeout = fmt.Errorf("no response headers: %w", context.DeadlineExceeded)

func readChatResponse(res *http.Response, onFrame FrameHandler) (string, error) {
	if res.Body != nil {
		defer res.Body.Close()
	}
	if err := checkStatus(res); err != nil {
		return "", fmt.Errorf("%w: %w", ErrStream, err)
	}
	if res.Body == nil {
		return "", fmt.Errorf("%w: %w", ErrStream, ErrBodyUnreadable)
	}
	return consumeStream(res.Body, onFrame)
}

// consumeStream treats each read as one frame. Bytes of a rune split across
// reads are carried into the next frame.
func consumeStream(body io.Reader, onFrame FrameHandler) (string, error) {
	buf := make([]byte, streamReadSize)
	var (
		acc   string
		carry []byte
	)
	emit := func(chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		frame := ParseFrame(string(chunk))
		if frame.Kind == FrameIgnored {
			return nil
		}
		acc = frame.Apply(acc)
		frame.Accumulated = acc
		if onFrame != nil {
			return onFrame(frame)
		}
		return nil
	}

	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			complete := utf8Boundary(data)
			carry = append([]byte(nil), data[complete:]...)
			if err := emit(data[:complete]); err != nil {
				return "", err
			}
		}
		if errors.Is(readErr, io.EOF) {
			if err := emit(carry); err != nil {
				return "", err
			}
			return acc, nil
		}
		if readErr != nil {
			return "", fmt.Errorf("%w: stream read: %w", ErrStream, readErr)
		}
	}
}

// utf8Boundary returns the length of the longest prefix of b that does not
// end inside a multi-byte rune.
func utf8Boundary(b []byte) int {
	end := len(b)
	// A rune is at most utf8.UTFMax bytes, so only the tail needs checking.
	for i := end - 1; i >= 0 && i >= end-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if !utf8.FullRune(b[i:end]) {
				return i
			}
			return end
		}
	}
	return end
}
