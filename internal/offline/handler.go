package offline

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Handler serves every request through Fetch. Relative requests are resolved
// against the origin; absolute-form requests are fetched as they are.
func (c *Coordinator) Handler() http.Handler {
	return http.HandlerFunc(c.handle)
}

func (c *Coordinator) handle(w http.ResponseWriter, r *http.Request) {
	target, err := c.targetURL(r)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Body != nil {
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if len(body) > maxBodyBytes {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
	}
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), rd)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	copyHeaders(out.Header, r.Header)

	resp := c.Fetch(r.Context(), out)
	if resp.Source == SourceBadGateway && c.shouldQueue(out) {
		if p, err := c.Enqueue(r.Context(), body); err == nil {
			writeEntry(w, offlineJSON(map[string]any{"queued": true, "id": p.ID}), string(SourceQueued))
			return
		}
	}
	if servedFromCache(resp.Source) && resp.Snapshot.OK() {
		if tag := resp.Snapshot.ETag(); tag != "" {
			w.Header().Set("ETag", tag)
			if (r.Method == http.MethodGet || r.Method == http.MethodHead) && etagMatches(r.Header.Get("If-None-Match"), tag) {
				setSourceHeaders(w.Header(), string(resp.Source))
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}
	writeEntry(w, resp.Snapshot, string(resp.Source))
}

func servedFromCache(s Source) bool {
	return s == SourceHit || s == SourceStale || s == SourceShell
}

// etagMatches applies the weak comparison If-None-Match uses.
func etagMatches(header, tag string) bool {
	if header == "" {
		return false
	}
	tag = strings.TrimPrefix(tag, "W/")
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "*" || strings.TrimPrefix(part, "W/") == tag {
			return true
		}
	}
	return false
}

func (c *Coordinator) targetURL(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		return r.URL, nil
	}
	return url.Parse(c.origin + r.URL.RequestURI())
}

func (c *Coordinator) shouldQueue(req *http.Request) bool {
	return c.queuePosts &&
		req.Method == http.MethodPost &&
		req.URL.Host == c.syncURL.Host &&
		req.URL.Path == c.syncURL.Path
}

func writeEntry(w http.ResponseWriter, s Snapshot, source string) {
	for k, vs := range s.Header {
		if strings.EqualFold(k, "x-offline0") || (strings.EqualFold(k, "ETag") && w.Header().Get("ETag") != "") {
			continue
		}
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	setSourceHeaders(w.Header(), source)
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

func setSourceHeaders(h http.Header, source string) {
	if source != "" {
		h.Set("X-Offline0", source)
	}
	// Browsers only let scripts read custom headers that are exposed.
	ensureExposedHeader(h, "X-Offline0")
}

func ensureExposedHeader(h http.Header, name string) {
	const expose = "Access-Control-Expose-Headers"
	cur := h.Values(expose)
	if len(cur) == 0 {
		h.Set(expose, name)
		return
	}

	merged := strings.Join(cur, ",")
	for _, part := range strings.Split(merged, ",") {
		if strings.EqualFold(strings.TrimSpace(part), name) {
			return
		}
	}
	h.Set(expose, strings.TrimSpace(merged)+", "+name)
}
