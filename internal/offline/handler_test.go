package offline

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/longbridgeapp/assert"
)

func TestHandler_ResolvesAgainstOriginAndTagsSource(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/api/health", `{"status":"OK"}`)
	c := activeCoordinator(t, net, "/index.html")
	h := c.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hit", rec.Header().Get("X-Offline0"))
	assert.Equal(t, "X-Offline0", rec.Header().Get("Access-Control-Expose-Headers"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, "network", rec.Header().Get("X-Offline0"))
	assert.Equal(t, `{"status":"OK"}`, rec.Body.String())
}

func TestHandler_QueuesFailedTranslationPosts(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	net.setDown(true)

	rec := httptest.NewRecorder()
	body := `{"text":"hello","sourceLang":"en","targetLang":"ar"}`
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/translate", strings.NewReader(body)))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "queued", rec.Header().Get("X-Offline0"))

	var payload map[string]any
	assert.Nil(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "Offline", payload["error"])
	assert.Equal(t, true, payload["queued"])

	pending, err := c.Pending()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pending))
	assert.Equal(t, body, string(pending[0].Payload))
}

func TestHandler_OtherFailedPostsAreBadGateway(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	net.setDown(true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/conversation", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "bad-gateway", rec.Header().Get("X-Offline0"))
}

func TestEnsureExposedHeader_Merges(t *testing.T) {
	h := http.Header{}
	h.Set("Access-Control-Expose-Headers", "ETag")
	ensureExposedHeader(h, "X-Offline0")
	assert.Equal(t, "ETag, X-Offline0", h.Get("Access-Control-Expose-Headers"))

	ensureExposedHeader(h, "x-offline0")
	assert.Equal(t, "ETag, X-Offline0", h.Get("Access-Control-Expose-Headers"))
}

func TestHandler_OversizedBodyIsRejected(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/api/ocr", `{}`)
	c := activeCoordinator(t, net, "/index.html")

	rec := httptest.NewRecorder()
	body := strings.NewReader(strings.Repeat("a", maxBodyBytes+1))
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ocr", body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, net.callCount(testOrigin+"/api/ocr"))

	rec = httptest.NewRecorder()
	body = strings.NewReader(strings.Repeat("a", maxBodyBytes))
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/ocr", body))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, net.callCount(testOrigin+"/api/ocr"))
}

func TestHandler_CachedEntriesRevalidate(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	h := c.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	tag := rec.Header().Get("ETag")
	assert.True(t, strings.HasPrefix(tag, `"`))
	assert.Equal(t, 1, len(rec.Header().Values("ETag")))

	tests := []struct {
		name        string
		ifNoneMatch string
		want        int
	}{
		{"same tag", tag, http.StatusNotModified},
		{"weak form", "W/" + tag, http.StatusNotModified},
		{"in a list", `"other", ` + tag, http.StatusNotModified},
		{"wildcard", "*", http.StatusNotModified},
		{"different tag", `"other"`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
			req.Header.Set("If-None-Match", tt.ifNoneMatch)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "hit", rec.Header().Get("X-Offline0"))
			if tt.want == http.StatusNotModified {
				assert.Equal(t, 0, rec.Body.Len())
			}
		})
	}
}

func TestHandler_NetworkResponsesCarryNoDerivedTag(t *testing.T) {
	net := newFakeNet().route(testOrigin+"/api/health", `{"status":"OK"}`)
	c := activeCoordinator(t, net, "/index.html")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, "network", rec.Header().Get("X-Offline0"))
	assert.Equal(t, "", rec.Header().Get("ETag"))
}
