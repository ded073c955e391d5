package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/edupoll/edupoll/pkg/envelope"
	"github.com/edupoll/edupoll/pkg/logger"
)

const (
	// DefaultTimeout bounds every outbound call.
	DefaultTimeout = 25 * time.Second
	// DefaultUserAgent mimics a desktop browser; the portal serves reduced
	// pages to unknown agents.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"

	maxBodySize = 8 << 20
)

// Observer is notified after every outbound call. status is 0 when no
// response arrived.
type Observer func(method string, status int, elapsed time.Duration)

// TransportOptions configures a Transport. Zero values select defaults.
type TransportOptions struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	UserAgent         string
	Logger            logger.Logger
	Observer          Observer
	// HTTPTransport overrides the round tripper, used by tests.
	HTTPTransport http.RoundTripper
}

// Transport is the single HTTP client of a Session. Cookies persist in the
// session jar across every call.
type Transport struct {
	session   *Session
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	log       logger.Logger
	observe   Observer
}

// Page is a fetched document together with the URL it was finally served
// from after redirects.
type Page struct {
	URL    string
	Status int
	Body   []byte
}

// NewTransport creates the session's HTTP client.
func NewTransport(s *Session, opts TransportOptions) *Transport {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNopLogger()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Transport{
		session: s,
		client: &http.Client{
			Jar:       s.Jar,
			Timeout:   opts.Timeout,
			Transport: opts.HTTPTransport,
		},
		limiter:   lim,
		userAgent: opts.UserAgent,
		log:       opts.Logger,
		observe:   opts.Observer,
	}
}

// Session returns the session the transport writes cookies to.
func (t *Transport) Session() *Session { return t.session }

// Timeout returns the per-call timeout.
func (t *Transport) Timeout() time.Duration { return t.client.Timeout }

// Get fetches path and returns the body.
func (t *Transport) Get(ctx context.Context, path string, headers map[string]string) ([]byte, error) {
	p, err := t.GetPage(ctx, path, headers)
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// GetPage fetches path and reports the final URL.
func (t *Transport) GetPage(ctx context.Context, path string, headers map[string]string) (*Page, error) {
	return t.do(ctx, http.MethodGet, path, nil, "", headers)
}

// PostForm posts form-encoded fields.
func (t *Transport) PostForm(ctx context.Context, path string, fields url.Values, headers map[string]string) ([]byte, error) {
	p, err := t.do(ctx, http.MethodPost, path, strings.NewReader(fields.Encode()),
		"application/x-www-form-urlencoded; charset=UTF-8", headers)
	if err != nil {
		return nil, err
	}
	return p.Body, nil
}

// PostJSON posts body as JSON and decodes the response into out. Responses
// carrying the encryption marker are unwrapped first. A nil out discards
// the body.
func (t *Transport) PostJSON(ctx context.Context, path string, body any, headers map[string]string, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request body: %w", err)
	}
	p, err := t.do(ctx, http.MethodPost, path, bytes.NewReader(buf), "application/json; charset=UTF-8", headers)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return t.decodeJSON(http.MethodPost, p, out)
}

func (t *Transport) decodeJSON(method string, p *Page, out any) error {
	text, err := envelope.UnwrapResponse(string(p.Body))
	if err != nil {
		return &TransportError{Method: method, URL: p.URL, Status: p.Status, Message: "undecodable encrypted response", Err: err}
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return &TransportError{Method: method, URL: p.URL, Status: p.Status, Message: "invalid JSON response: " + snippet(text), Err: err}
	}
	return nil
}

func (t *Transport) do(ctx context.Context, method, path string, body io.Reader, contentType string, headers map[string]string) (*Page, error) {
	u, err := t.session.Resolve(path)
	if err != nil {
		return nil, &TransportError{Method: method, URL: path, Message: "invalid URL", Err: err}
	}
	target := u.String()
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: method, URL: target, Message: err.Error(), Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Message: err.Error(), Err: err}
	}
	req.Header.Set("User-Agent", t.userAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.8,de;q=0.6")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.notify(method, 0, start)
		return nil, &TransportError{Method: method, URL: target, Message: describeNetError(err, t.client.Timeout), Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	t.notify(method, resp.StatusCode, start)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Status: resp.StatusCode, Message: "read body: " + err.Error(), Err: err}
	}
	final := target
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	t.log.Debug("%s %s -> %d (%d bytes)", method, u.Path, resp.StatusCode, len(data))
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		msg := http.StatusText(resp.StatusCode)
		if s := snippet(string(data)); s != "" {
			msg += ": " + s
		}
		return nil, &TransportError{Method: method, URL: final, Status: resp.StatusCode, Message: msg}
	}
	return &Page{URL: final, Status: resp.StatusCode, Body: data}, nil
}

func (t *Transport) notify(method string, status int, start time.Time) {
	if t.observe != nil {
		t.observe(method, status, time.Since(start))
	}
}

func describeNetError(err error, timeout time.Duration) string {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return ue.Err.Error()
	}
	return err.Error()
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	const limit = 160
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
