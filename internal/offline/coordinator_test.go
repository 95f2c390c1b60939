package offline

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/longbridgeapp/assert"

	"offline0/internal/config"
)

func TestCacheFirst_HitNeverTouchesNetwork(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/styles.css")
	before := net.callCount(testOrigin + "/styles.css")

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/styles.css"))
	assert.Equal(t, SourceHit, resp.Source)
	assert.Equal(t, CacheFirst, resp.Strategy)
	assert.Equal(t, "asset /styles.css", string(resp.Body))
	assert.Equal(t, before, net.callCount(testOrigin+"/styles.css"))
}

func TestCacheFirst_MissStoresInStaticBucket(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/app.js", "console.log(1)")
	c := activeCoordinator(t, net, "/index.html")

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/app.js"))
	assert.Equal(t, SourceMiss, resp.Source)
	_, ok := c.static.Match(testOrigin + "/app.js")
	assert.True(t, ok)

	net.setDown(true)
	resp = c.Fetch(context.Background(), get(t, testOrigin+"/app.js"))
	assert.Equal(t, SourceHit, resp.Source)
	assert.Equal(t, "console.log(1)", string(resp.Body))
	assert.Equal(t, 1, net.callCount(testOrigin+"/app.js"))
}

func TestCacheFirst_NonOKIsNotStored(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/missing.png"))
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, SourceNetwork, resp.Source)
	_, ok := c.static.Match(testOrigin + "/missing.png")
	assert.False(t, ok)
}

func TestCacheFirst_OfflineMissIs503(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	net.setDown(true)

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/late.css"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, SourceOffline, resp.Source)
	assert.Equal(t, "Offline content not available", string(resp.Body))
	assert.True(t, resp.Err != nil)
}

func TestNetworkFirst_OverwritesThenServesStale(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	url := testOrigin + "/api/translations"

	net.route(url, `{"v":1}`)
	resp := c.Fetch(context.Background(), get(t, url))
	assert.Equal(t, SourceNetwork, resp.Source)

	net.route(url, `{"v":2}`)
	resp = c.Fetch(context.Background(), get(t, url))
	assert.Equal(t, `{"v":2}`, string(resp.Body))

	stored, ok := c.dynamic.Match(url)
	assert.True(t, ok)
	assert.Equal(t, `{"v":2}`, string(stored.Body))

	net.setDown(true)
	resp = c.Fetch(context.Background(), get(t, url))
	assert.Equal(t, SourceStale, resp.Source)
	assert.Equal(t, `{"v":2}`, string(resp.Body))
}

func TestNetworkFirst_OfflineWithoutCacheIsStructured(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	net.setDown(true)

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/api/health"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var payload map[string]any
	assert.Nil(t, json.Unmarshal(resp.Body, &payload))
	assert.Equal(t, "Offline", payload["error"])
	assert.Equal(t, offlineAPIMessage, payload["message"])
}

func TestNetworkFirstWithFallback_ServesShell(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/index.html", "<html>shell</html>")
	c := activeCoordinator(t, net, "/index.html")
	net.setDown(true)

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/settings"))
	assert.Equal(t, NetworkFirstWithFallback, resp.Strategy)
	assert.Equal(t, SourceShell, resp.Source)
	assert.Equal(t, "<html>shell</html>", string(resp.Body))
}

func TestNetworkFirstWithFallback_NoShellIs503(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/styles.css")
	net.setDown(true)

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/about.html"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, SourceOffline, resp.Source)
	assert.Equal(t, "Page not available offline", string(resp.Body))
}

func TestNetworkFirstWithFallback_PrefersOwnCachedPage(t *testing.T) {
	net := newFakeNet().
		route(testOrigin+"/index.html", "shell").
		route(testOrigin+"/about.html", "about")
	c := activeCoordinator(t, net, "/index.html")

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/about.html"))
	assert.Equal(t, SourceNetwork, resp.Source)

	net.setDown(true)
	resp = c.Fetch(context.Background(), get(t, testOrigin+"/about.html"))
	assert.Equal(t, SourceStale, resp.Source)
	assert.Equal(t, "about", string(resp.Body))
}

func TestFetch_NotControllingPassesThrough(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/api/x", "x")
	c, _ := newTestCoordinator(t, testConfig("/index.html"), net)

	resp := c.Fetch(context.Background(), get(t, testOrigin+"/api/x"))
	assert.Equal(t, SourceBypass, resp.Source)
	assert.Equal(t, 0, c.dynamic.Len())

	net.setDown(true)
	resp = c.Fetch(context.Background(), get(t, testOrigin+"/api/x"))
	assert.Equal(t, SourceBadGateway, resp.Source)
	assert.Equal(t, http.StatusBadGateway, resp.Status)
}

func TestFetch_NonGetIsNeverCached(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/api/translate", `{"success":true}`)
	c := activeCoordinator(t, net, "/index.html")

	req, err := newJSONRequest(context.Background(), http.MethodPost, testOrigin+"/api/translate", []byte(`{"text":"hi"}`))
	assert.Nil(t, err)
	resp := c.Fetch(context.Background(), req)
	assert.Equal(t, SourceBypass, resp.Source)
	assert.Equal(t, Bypass, resp.Strategy)
	assert.Equal(t, 0, c.dynamic.Len())
	assert.Equal(t, `{"text":"hi"}`, net.bodies[len(net.bodies)-1])
}

func TestDynamicBucket_EvictsOldestOverCapacity(t *testing.T) {
	cfg, err := config.Parse([]byte(`
server:
  origin: http://app.test
cache:
  staticAssets: ["/index.html"]
  dynamic:
    max: 1kb
`))
	assert.Nil(t, err)

	net := newFakeNet().route(testOrigin+"/index.html", "shell")
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Unix(0, tick)
	}
	c, _ := newTestCoordinator(t, cfg, net, WithClock(clock))
	assert.Nil(t, c.Start(context.Background()))

	big := strings.Repeat("a", 600)
	net.route(testOrigin+"/api/a", big)
	net.route(testOrigin+"/api/b", big)

	c.Fetch(context.Background(), get(t, testOrigin+"/api/a"))
	c.Fetch(context.Background(), get(t, testOrigin+"/api/b"))

	_, okA := c.dynamic.Match(testOrigin + "/api/a")
	_, okB := c.dynamic.Match(testOrigin + "/api/b")
	assert.False(t, okA)
	assert.True(t, okB)

	_, ok := c.static.Match(testOrigin + "/index.html")
	assert.True(t, ok)
}
