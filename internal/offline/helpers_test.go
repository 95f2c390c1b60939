package offline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/longbridgeapp/assert"

	"offline0/internal/config"
	"offline0/internal/storage"
)

const testOrigin = "http://app.test"

var errOffline = errors.New("network is unreachable")

// fakeNet is an in-process transport. Routes are keyed by absolute URL
// without query; unknown URLs answer 404.
type fakeNet struct {
	mu     sync.Mutex
	down   bool
	routes map[string]string
	status map[string]int
	calls  map[string]int
	bodies []string
}

func newFakeNet() *fakeNet {
	return &fakeNet{routes: map[string]string{}, status: map[string]int{}, calls: map[string]int{}}
}

func (f *fakeNet) route(url, body string) *fakeNet {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[url] = body
	return f
}

func (f *fakeNet) routeStatus(url string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[url] = status
}

func (f *fakeNet) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeNet) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeNet) RoundTrip(req *http.Request) (*http.Response, error) {
	key := req.URL.Scheme + "://" + req.URL.Host + req.URL.Path
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[key]++
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		f.bodies = append(f.bodies, string(b))
	}
	if f.down {
		return nil, errOffline
	}
	body, ok := f.routes[key]
	status := http.StatusOK
	if !ok {
		status, body = http.StatusNotFound, "not found"
	}
	if s, ok := f.status[key]; ok {
		status = s
	}
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}, nil
}

func testConfig(assets ...string) config.Config {
	cfg := config.Default(testOrigin)
	cfg.Cache.StaticAssets = assets
	return cfg
}

func newTestCoordinator(t *testing.T, cfg config.Config, net *fakeNet, opts ...Option) (*Coordinator, *storage.DB) {
	t.Helper()
	db, err := storage.OpenMem()
	assert.Nil(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c, err := New(cfg, db, append([]Option{WithHTTPClient(&http.Client{Transport: net})}, opts...)...)
	assert.Nil(t, err)
	t.Cleanup(c.Close)
	return c, db
}

// activeCoordinator is installed and controlling with the given assets.
func activeCoordinator(t *testing.T, net *fakeNet, assets ...string) *Coordinator {
	t.Helper()
	for _, a := range assets {
		if _, ok := net.routes[testOrigin+a]; !ok {
			net.route(testOrigin+a, "asset "+a)
		}
	}
	c, _ := newTestCoordinator(t, testConfig(assets...), net)
	assert.Nil(t, c.Start(context.Background()))
	assert.True(t, c.Controlling())
	return c
}

func get(t *testing.T, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	assert.Nil(t, err)
	return req
}
