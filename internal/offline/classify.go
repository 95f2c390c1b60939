package offline

import (
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Strategy is the caching policy applied to an intercepted request.
type Strategy int

const (
	// Bypass requests go straight to the network and never touch the caches.
	Bypass Strategy = iota
	CacheFirst
	NetworkFirst
	NetworkFirstWithFallback
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case NetworkFirstWithFallback:
		return "network-first-with-fallback"
	default:
		return "bypass"
	}
}

// Kind is the resource kind a request was classified as.
type Kind int

const (
	KindBypass Kind = iota
	KindStatic
	KindAPI
	KindPage
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindAPI:
		return "api"
	case KindPage:
		return "page"
	case KindOther:
		return "other"
	default:
		return "bypass"
	}
}

var staticExts = map[string]struct{}{
	".css": {}, ".js": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
}

// Classifier maps a request to a resource kind and its strategy.
type Classifier struct {
	static   map[string]struct{}
	patterns []*regexp.Regexp
	keywords []string
}

// NewClassifier resolves relative asset paths against origin.
func NewClassifier(origin string, assets []string, patterns []*regexp.Regexp, keywords []string) *Classifier {
	c := &Classifier{
		static:   make(map[string]struct{}, len(assets)),
		patterns: patterns,
	}
	for _, a := range assets {
		if u, err := resolve(origin, a); err == nil {
			c.static[cacheKey(u)] = struct{}{}
		}
	}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

// Classify evaluates the rules in precedence order: method, static set, API,
// page, other.
func (c *Classifier) Classify(method string, u *url.URL) (Kind, Strategy) {
	if method != http.MethodGet {
		return KindBypass, Bypass
	}
	switch {
	case c.isStatic(u):
		return KindStatic, CacheFirst
	case c.isAPI(u):
		return KindAPI, NetworkFirst
	case isPage(u):
		return KindPage, NetworkFirstWithFallback
	default:
		return KindOther, NetworkFirst
	}
}

func (c *Classifier) isStatic(u *url.URL) bool {
	if _, ok := c.static[cacheKey(u)]; ok {
		return true
	}
	if strings.Contains(u.Path, "/assets/") {
		return true
	}
	_, ok := staticExts[strings.ToLower(path.Ext(u.Path))]
	return ok
}

func (c *Classifier) isAPI(u *url.URL) bool {
	if strings.HasPrefix(u.Path, "/api/") {
		return true
	}
	full := u.String()
	for _, re := range c.patterns {
		if re.MatchString(full) {
			return true
		}
	}
	p := strings.ToLower(u.Path)
	for _, k := range c.keywords {
		if strings.Contains(p, k) {
			return true
		}
	}
	return false
}

func isPage(u *url.URL) bool {
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return true
	}
	ext := strings.ToLower(path.Ext(p))
	return ext == ".html" || ext == ""
}

// resolve turns an asset path or absolute URL into an absolute URL.
func resolve(origin, ref string) (*url.URL, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return url.Parse(ref)
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return url.Parse(origin + ref)
}

// cacheKey is the absolute URL without fragment.
func cacheKey(u *url.URL) string {
	if u.Fragment == "" && u.RawFragment == "" {
		return u.String()
	}
	cp := *u
	cp.Fragment, cp.RawFragment = "", ""
	return cp.String()
}
