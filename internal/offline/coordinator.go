// Package offline implements the offline cache coordinator: it sits on the
// network boundary, classifies every outbound request and serves it with a
// cache-first, network-first or network-first-with-fallback strategy.
//
// All strategy failures are absorbed. Fetch always returns a response, either
// from the network, from a bucket, or synthesized as a 503.
package offline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"

	"offline0/internal/config"
	"offline0/internal/logger"
	"offline0/internal/storage"
)

// Source tells where a served response came from. It is written to the
// X-Offline0 response header.
type Source string

const (
	SourceHit        Source = "hit"
	SourceMiss       Source = "miss"
	SourceNetwork    Source = "network"
	SourceStale      Source = "stale"
	SourceShell      Source = "shell"
	SourceOffline    Source = "offline"
	SourceBypass     Source = "bypass"
	SourceBadGateway Source = "bad-gateway"
	SourceQueued     Source = "queued"
)

const (
	offlineAPIMessage = "Translation service is currently unavailable. Please check your internet connection."
	maxBodyBytes      = 10 << 20
)

// Response is the outcome of one intercepted fetch. Err carries the network
// failure that made the coordinator fall back, if any.
type Response struct {
	Snapshot
	Source   Source
	Kind     Kind
	Strategy Strategy
	Err      error
}

type Coordinator struct {
	origin     string
	namespace  string
	shellURL   string
	syncURL    *url.URL
	queuePosts bool
	assets     []string

	client     *http.Client
	log        *slog.Logger
	offlineLog *logger.RateLimited
	now        func() time.Time

	caches     *CacheStorage
	static     *Bucket
	dynamic    *Bucket
	classifier *Classifier
	queue      *Queue
	hub        *hub
	stats      *statsCollector

	mu          sync.Mutex
	phase       Phase
	skipWaiting bool

	syncMu sync.Mutex

	stopCh    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type Option func(*Coordinator)

// WithHTTPClient sets the client used for every network fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Coordinator) { c.client = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New opens the current static and dynamic buckets in db. Background loops
// configured in cfg start immediately and stop on Close.
func New(cfg config.Config, db *storage.DB, opts ...Option) (*Coordinator, error) {
	syncURL, err := resolve(cfg.Server.Origin, cfg.Sync.Endpoint)
	if err != nil {
		return nil, ewrap.Wrap(err, "sync endpoint")
	}
	shell, err := resolve(cfg.Server.Origin, cfg.Cache.Shell)
	if err != nil {
		return nil, ewrap.Wrap(err, "shell document")
	}

	c := &Coordinator{
		origin:     cfg.Server.Origin,
		namespace:  cfg.Cache.Namespace,
		shellURL:   cacheKey(shell),
		syncURL:    syncURL,
		queuePosts: cfg.QueueOfflinePosts(),
		client:     &http.Client{Timeout: cfg.APITimeout()},
		log:        logger.Discard(),
		now:        time.Now,
		classifier: NewClassifier(cfg.Server.Origin, cfg.Cache.StaticAssets, cfg.APIRegexps(), cfg.Cache.APIKeywords),
		hub:        newHub(),
		stats:      newStatsCollector(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.offlineLog = logger.NewRateLimited(c.log, time.Minute)

	for _, a := range cfg.Cache.StaticAssets {
		u, err := resolve(cfg.Server.Origin, a)
		if err != nil {
			return nil, ewrap.Wrapf(err, "static asset %q", a)
		}
		c.assets = append(c.assets, cacheKey(u))
	}

	c.caches = NewCacheStorage(db, logger.NewRateLimited(c.log, time.Minute))
	if c.static, err = c.caches.Open(cfg.StaticBucket(), 0); err != nil {
		return nil, err
	}
	if c.dynamic, err = c.caches.Open(cfg.DynamicBucket(), cfg.DynamicMaxBytes()); err != nil {
		return nil, err
	}
	c.queue = NewQueue(db, c.now)

	if every := cfg.StatsEvery(); every > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.statsLoop(every)
		}()
	}
	if every := cfg.SyncEvery(); every > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.syncLoop(every)
		}()
	}
	return c, nil
}

// Close stops the background loops. The storage is owned by the caller.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
		c.hub.closeAll()
	})
	c.wg.Wait()
}

// Fetch serves req, whose URL must be absolute. Requests are passed straight
// through until the coordinator controls (see Activate).
func (c *Coordinator) Fetch(ctx context.Context, req *http.Request) *Response {
	kind, strategy := c.classifier.Classify(req.Method, req.URL)
	if strategy == Bypass || !c.Controlling() {
		resp := c.passThrough(ctx, req)
		resp.Kind = kind
		c.stats.Observe(resp.Source, len(resp.Body))
		return resp
	}

	key := cacheKey(req.URL)
	var resp *Response
	switch strategy {
	case CacheFirst:
		resp = c.cacheFirst(ctx, req, key)
	case NetworkFirstWithFallback:
		resp = c.networkFirst(ctx, req, key, true)
	default:
		resp = c.networkFirst(ctx, req, key, false)
	}
	resp.Kind, resp.Strategy = kind, strategy
	c.stats.Observe(resp.Source, len(resp.Body))
	if resp.Err != nil {
		c.offlineLog.Warn("network unavailable, served fallback",
			"url", key, "strategy", strategy.String(), "source", string(resp.Source), "err", resp.Err)
	}
	return resp
}

// match searches the current buckets, static first.
func (c *Coordinator) match(key string) (Snapshot, bool) {
	if s, ok := c.static.Match(key); ok {
		return s, true
	}
	return c.dynamic.Match(key)
}

func (c *Coordinator) cacheFirst(ctx context.Context, req *http.Request, key string) *Response {
	if s, ok := c.match(key); ok {
		return &Response{Snapshot: s, Source: SourceHit}
	}

	s, err := c.fetchNetwork(ctx, req)
	if err != nil {
		return &Response{Snapshot: offlineText("Offline content not available"), Source: SourceOffline, Err: err}
	}
	if !s.OK() {
		return &Response{Snapshot: s, Source: SourceNetwork}
	}
	if err := c.static.Put(key, s); err != nil {
		c.log.Error("store static entry", "url", key, "err", err)
	}
	return &Response{Snapshot: s, Source: SourceMiss}
}

func (c *Coordinator) networkFirst(ctx context.Context, req *http.Request, key string, withShell bool) *Response {
	s, err := c.fetchNetwork(ctx, req)
	if err == nil {
		if s.OK() {
			if err := c.dynamic.Put(key, s); err != nil {
				c.log.Error("store dynamic entry", "url", key, "err", err)
			}
		}
		return &Response{Snapshot: s, Source: SourceNetwork}
	}

	if cached, ok := c.match(key); ok {
		return &Response{Snapshot: cached, Source: SourceStale, Err: err}
	}
	if !withShell {
		return &Response{Snapshot: offlineJSON(nil), Source: SourceOffline, Err: err}
	}
	if shell, ok := c.static.Match(c.shellURL); ok {
		return &Response{Snapshot: shell, Source: SourceShell, Err: err}
	}
	return &Response{Snapshot: offlineText("Page not available offline"), Source: SourceOffline, Err: err}
}

func (c *Coordinator) passThrough(ctx context.Context, req *http.Request) *Response {
	s, err := c.fetchNetwork(ctx, req)
	if err != nil {
		bad := newSnapshot(http.StatusBadGateway, http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			[]byte("bad gateway\n"), c.now().UnixNano())
		return &Response{Snapshot: bad, Source: SourceBadGateway, Strategy: Bypass, Err: err}
	}
	return &Response{Snapshot: s, Source: SourceBypass, Strategy: Bypass}
}

// fetchNetwork performs one network round trip. Only transport failures are
// errors; any HTTP status is returned as a snapshot.
func (c *Coordinator) fetchNetwork(ctx context.Context, req *http.Request) (Snapshot, error) {
	var body io.Reader
	if req.GetBody != nil {
		rc, err := req.GetBody()
		if err != nil {
			return Snapshot{}, ewrap.Wrap(err, "rewind request body")
		}
		defer rc.Close()
		body = rc
	} else if req.Body != nil && req.Body != http.NoBody {
		body = req.Body
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), body)
	if err != nil {
		return Snapshot{}, ewrap.Wrap(err, "build request")
	}
	copyHeaders(out.Header, req.Header)
	out.Header.Set("Accept-Encoding", "identity")

	resp, err := c.client.Do(out)
	if err != nil {
		return Snapshot{}, ewrap.Wrapf(err, "%s %s", req.Method, req.URL.Redacted())
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return Snapshot{}, ewrap.Wrapf(err, "read %s", req.URL.Redacted())
	}
	return newSnapshot(resp.StatusCode, resp.Header, b, c.now().UnixNano()), nil
}

func offlineText(msg string) Snapshot {
	return Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
		Body:   []byte(msg),
	}
}

// offlineJSON is the machine-readable unavailability payload. extra fields
// are merged into it.
func offlineJSON(extra map[string]any) Snapshot {
	payload := map[string]any{
		"error":   "Offline",
		"message": offlineAPIMessage,
	}
	for k, v := range extra {
		payload[k] = v
	}
	b, _ := marshalJSON(payload)
	return Snapshot{
		Status: http.StatusServiceUnavailable,
		Header: http.Header{"Content-Type": {"application/json"}},
		Body:   b,
	}
}

func newGetRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, ewrap.Wrapf(err, "build request %s", rawURL)
	}
	return req, nil
}

func newJSONRequest(ctx context.Context, method, rawURL string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, ewrap.Wrapf(err, "build request %s", rawURL)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
