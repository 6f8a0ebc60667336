// Package vistaar is the HTTP client for the chat, transcription, speech
// synthesis and suggestion endpoints of the advisory service.
package vistaar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/antoniostano/vistaar/internal/reliability"
)

const (
	DefaultBaseURL = "https://prodaskvistaar.mahapocra.gov.in"
	DefaultTimeout = 60 * time.Second

	chatPath       = "/api/chat/"
	transcribePath = "/api/transcribe/"
	ttsPath        = "/api/tts/"
	suggestPath    = "/api/suggest/"

	maxErrorBody = 4 << 10
)

// Credentials yields the Authorization header value for each request.
type Credentials interface {
	Credential() (string, error)
}

// Observer receives the outcome of every upstream call.
type Observer interface {
	ObserveUpstream(endpoint string, elapsed time.Duration, err error)
}

type Client struct {
	baseURL string
	// http carries no overall Timeout. JSON calls are bounded by timeout
	// through their context; the chat stream only bounds the wait for
	// response headers.
	http     *http.Client
	timeout  time.Duration
	creds    Credentials
	observer Observer
	logger   zerolog.Logger

	suggestAttempts int
	backoffBase     time.Duration
	backoffCap      time.Duration
}

type Option func(*Client)

// WithHTTPClient sets the transport client. A Timeout set on c is moved to
// the per-call timeout so it never cuts off a streamed answer.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c == nil {
			return
		}
		hc := *c
		if hc.Timeout > 0 {
			cl.timeout = hc.Timeout
			hc.Timeout = 0
		}
		cl.http = &hc
	}
}

// WithTimeout bounds each JSON call, and the wait for the chat stream's
// response headers. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

func WithObserver(o Observer) Option {
	return func(cl *Client) { cl.observer = o }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = logger.With().Str("component", "vistaar_client").Logger() }
}

// WithRetry sets how often idempotent GETs are attempted and the backoff
// between attempts.
func WithRetry(attempts int, base, cap time.Duration) Option {
	return func(cl *Client) {
		cl.suggestAttempts = attempts
		cl.backoffBase = base
		cl.backoffCap = cap
	}
}

func NewClient(baseURL string, creds Credentials, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:         baseURL,
		http:            &http.Client{},
		timeout:         DefaultTimeout,
		creds:           creds,
		logger:          zerolog.Nop(),
		suggestAttempts: 3,
		backoffBase:     200 * time.Millisecond,
		backoffCap:      2 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location is an optional coordinate attached to chat queries.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l Location) String() string {
	return strconv.FormatFloat(l.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(l.Longitude, 'f', -1, 64)
}

type TranscribeRequest struct {
	AudioContent string `json:"audio_content"`
	ServiceType  string `json:"service_type"`
	SessionID    string `json:"session_id"`
}

type TranscribeResponse struct {
	Text     string `json:"text"`
	LangCode string `json:"lang_code"`
	Status   string `json:"status"`
}

// Transcribe posts base64 audio for speech recognition.
func (c *Client) Transcribe(ctx context.Context, req TranscribeRequest) (TranscribeResponse, error) {
	var out TranscribeResponse
	err := c.postJSON(ctx, transcribePath, req, &out)
	return out, err
}

type SynthesizeRequest struct {
	SessionID  string `json:"session_id"`
	Text       string `json:"text"`
	TargetLang string `json:"target_lang"`
}

type SynthesizeResponse struct {
	Status    string `json:"status"`
	AudioData string `json:"audio_data"`
	SessionID string `json:"session_id"`
}

// Synthesize requests speech audio for text. AudioData is base64.
func (c *Client) Synthesize(ctx context.Context, req SynthesizeRequest) (SynthesizeResponse, error) {
	var out SynthesizeResponse
	err := c.postJSON(ctx, ttsPath, req, &out)
	return out, err
}

// Suggestions lists follow-up questions for the session. Retryable failures
// are retried with capped exponential backoff.
func (c *Client) Suggestions(ctx context.Context, sessionID, targetLang string) ([]string, error) {
	if targetLang == "" {
		targetLang = "mr"
	}
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("target_lang", targetLang)

	attempts := c.suggestAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := reliability.Sleep(ctx, reliability.ExponentialBackoff(attempt-1, c.backoffBase, c.backoffCap)); err != nil {
				return nil, err
			}
		}
		var out []suggestion
		lastErr = c.getJSON(ctx, suggestPath, q, &out)
		if lastErr == nil {
			items := make([]string, 0, len(out))
			for _, s := range out {
				if s != "" {
					items = append(items, string(s))
				}
			}
			return items, nil
		}
		if !reliability.Retryable(lastErr) {
			return nil, lastErr
		}
		c.logger.Debug().Err(lastErr).Int("attempt", attempt+1).Msg("suggestions retry")
	}
	return nil, lastErr
}

// suggestion accepts either a bare string or a {"question": "..."} object.
type suggestion string

func (s *suggestion) UnmarshalJSON(b []byte) error {
	var text string
	if err := json.Unmarshal(b, &text); err == nil {
		*s = suggestion(strings.TrimSpace(text))
		return nil
	}
	var obj struct {
		Question string `json:"question"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*s = suggestion(strings.TrimSpace(obj.Question))
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) (err error) {
	start := time.Now()
	defer func() { c.observe(path, start, err) }()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, path, nil, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.doJSON(httpReq, out)
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) (err error) {
	start := time.Now()
	defer func() { c.observe(path, start, err) }()
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	httpReq, err := c.newRequest(ctx, http.MethodGet, path, q, nil)
	if err != nil {
		return err
	}
	return c.doJSON(httpReq, out)
}

func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) doJSON(httpReq *http.Request, out any) error {
	res, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()
	if err := checkStatus(res); err != nil {
		return err
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// newRequest attaches the credential. A missing credential fails before
// anything is sent.
func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body io.Reader) (*http.Request, error) {
	credential := ""
	if c.creds != nil {
		v, err := c.creds.Credential()
		if err != nil {
			return nil, err
		}
		credential = v
	}
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if credential != "" {
		httpReq.Header.Set("Authorization", credential)
	}
	return httpReq, nil
}

func (c *Client) observe(path string, start time.Time, err error) {
	endpoint := strings.Trim(strings.TrimPrefix(path, "/api/"), "/")
	if c.observer != nil {
		c.observer.ObserveUpstream(endpoint, time.Since(start), err)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("upstream call failed")
	}
}

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	var body []byte
	if res.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	}
	return &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
}
