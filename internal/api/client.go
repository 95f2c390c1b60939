// Package api is the resilient client of the voice-translator backend.
//
// Request retries a failed call with linear backoff and returns the terminal
// error. The domain operations built on it (Translate, OCR, ...) never return
// errors: when the backend cannot be reached they answer with a local
// fallback marked Fallback: true.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"offline0/internal/logger"
	"offline0/internal/storage"
)

const (
	DefaultMaxRetries   = 3
	DefaultBackoff      = time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultProbeTimeout = 5 * time.Second
)

var (
	ErrConnection  = ewrap.New("api connection failed")
	ErrInvalidJSON = ewrap.New("response is not json")
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("HTTP error! status: %d", e.Code) }

// ConnectionState is Unknown until the first health probe completes.
type ConnectionState int32

const (
	Unknown ConnectionState = iota
	Connected
	Disconnected
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Health is the body of GET /health.
type Health struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
}

type Client struct {
	baseURL      string
	hc           *http.Client
	headers      http.Header
	maxRetries   int
	backoff      time.Duration
	probeTimeout time.Duration
	timeout      time.Duration
	timeoutSet   bool
	sleep        func(ctx context.Context, d time.Duration) error
	now          func() time.Time
	log          *slog.Logger
	tracer       trace.Tracer
	observers    []Observer
	listeners    []func(old, new ConnectionState)
	records      storage.RecordStore

	state   atomic.Int32
	stateMu sync.Mutex
}

type Option func(*Client)

// WithHTTPClient sets the underlying client. It is never modified; a timeout
// set with WithTimeout applies to a copy.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithTimeout bounds every attempt, health probes included.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout, c.timeoutSet = d, true
		if d > 0 && d < c.probeTimeout {
			c.probeTimeout = d
		}
	}
}

func WithMaxRetries(n int) Option { return func(c *Client) { c.maxRetries = n } }

// WithBackoff sets the unit of the linear backoff: retry n waits n*d.
func WithBackoff(d time.Duration) Option { return func(c *Client) { c.backoff = d } }

// WithSleeper replaces the backoff wait.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.log = l } }

func WithTracer(t trace.Tracer) Option { return func(c *Client) { c.tracer = t } }

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option { return func(c *Client) { c.headers.Set(key, value) } }

// WithObservers registers callbacks run around every top-level request.
func WithObservers(obs ...Observer) Option {
	return func(c *Client) { c.observers = append(c.observers, obs...) }
}

// WithStateListener is called on every connection state transition.
func WithStateListener(fn func(old, new ConnectionState)) Option {
	return func(c *Client) { c.listeners = append(c.listeners, fn) }
}

// WithRecordStore sets where SaveTranslation keeps records while offline.
func WithRecordStore(s storage.RecordStore) Option { return func(c *Client) { c.records = s } }

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		hc:           &http.Client{Timeout: DefaultTimeout},
		headers:      http.Header{"Content-Type": {"application/json"}},
		maxRetries:   DefaultMaxRetries,
		backoff:      DefaultBackoff,
		probeTimeout: DefaultProbeTimeout,
		sleep:        sleepCtx,
		now:          time.Now,
		log:          logger.Discard(),
		tracer:       otel.Tracer("offline0/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeoutSet && c.hc.Timeout != c.timeout {
		hc := *c.hc
		hc.Timeout = c.timeout
		c.hc = &hc
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// retryBudget counts retries of one top-level request.
type retryBudget struct {
	count int
	max   int
}

func (b *retryBudget) spend() bool {
	if b.count >= b.max {
		return false
	}
	b.count++
	return true
}

type requestOptions struct {
	header http.Header
}

type RequestOption func(*requestOptions)

// WithRequestHeader overrides a default header for one request.
func WithRequestHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.header.Set(key, value) }
}

// Request sends body to baseURL+endpoint and returns the JSON response. A
// transport failure, a non-2xx status or a non-JSON body is retried up to
// maxRetries times; retry n waits n*backoff after the failed attempt.
func (c *Client) Request(ctx context.Context, method, endpoint string, body []byte, opts ...RequestOption) (json.RawMessage, error) {
	ro := requestOptions{header: c.headers.Clone()}
	for _, opt := range opts {
		opt(&ro)
	}

	ctx, span := c.tracer.Start(ctx, "api.request", trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("api.endpoint", endpoint),
	))
	defer span.End()

	info := RequestInfo{Method: method, Endpoint: endpoint}
	for _, o := range c.observers {
		o.BeforeRequest(ctx, info)
	}
	start := c.now()

	raw, attempts, err := c.requestWithRetry(ctx, method, c.baseURL+endpoint, body, ro.header)

	info.Attempts = attempts
	info.Duration = c.now().Sub(start)
	for _, o := range c.observers {
		o.AfterRequest(ctx, info, err)
	}
	span.SetAttributes(attribute.Int("api.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Error("api request failed", "endpoint", endpoint, "attempts", attempts, "err", err)
		return nil, err
	}
	return raw, nil
}

func (c *Client) requestWithRetry(ctx context.Context, method, url string, body []byte, header http.Header) (json.RawMessage, int, error) {
	budget := retryBudget{max: c.maxRetries}
	attempts := 0
	for {
		attempts++
		raw, err := c.attempt(ctx, method, url, body, header)
		if err == nil {
			return raw, attempts, nil
		}
		if !retryable(ctx, err) || !budget.spend() {
			return nil, attempts, err
		}
		c.log.Warn("retrying request", "url", url, "retry", budget.count, "max", budget.max, "err", err)
		if serr := c.sleep(ctx, c.backoff*time.Duration(budget.count)); serr != nil {
			return nil, attempts, errors.Join(err, serr)
		}
	}
}

type permanentError struct{ error }

func (e permanentError) Unwrap() error { return e.error }

func retryable(ctx context.Context, err error) bool {
	var p permanentError
	if errors.As(err, &p) {
		return false
	}
	return ctx.Err() == nil
}

func (c *Client) attempt(ctx context.Context, method, url string, body []byte, header http.Header) (json.RawMessage, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, permanentError{ewrap.Wrap(err, "build request")}
	}
	req.Header = header.Clone()

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, ewrap.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ewrap.Wrapf(err, "read %s", url)
	}
	if !json.Valid(b) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(b), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CheckConnection probes GET /health once, without retries.
func (c *Client) CheckConnection(ctx context.Context) (Health, error) {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return Health{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return Health{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Health{}, fmt.Errorf("%w: health check failed: %w", ErrConnection, &StatusError{Code: resp.StatusCode})
	}

	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return Health{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}
	return h, nil
}

// Init probes the backend and moves the connection state accordingly.
func (c *Client) Init(ctx context.Context) ConnectionState {
	h, err := c.CheckConnection(ctx)
	if err != nil {
		c.log.Warn("api connection failed, using fallback mode", "err", err)
		c.setState(Disconnected)
		return Disconnected
	}
	c.log.Debug("api health", "status", h.Status, "version", h.Version)
	c.setState(Connected)
	return Connected
}

// Reconnect runs a fresh probe. Retry budgets are per request, so the next
// request starts with a full budget either way.
func (c *Client) Reconnect(ctx context.Context) ConnectionState {
	return c.Init(ctx)
}

func (c *Client) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Connected reports whether the last probe succeeded.
func (c *Client) Connected() bool { return c.State() == Connected }

func (c *Client) setState(next ConnectionState) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	prev := ConnectionState(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	c.log.Info("api connection state changed", "from", prev.String(), "to", next.String())
	for _, fn := range c.listeners {
		fn(prev, next)
	}
}

// Monitor re-probes the backend every interval until ctx is done.
func (c *Client) Monitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Init(ctx)
		}
	}
}
