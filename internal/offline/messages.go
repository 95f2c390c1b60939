package offline

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
)

// Control message types accepted by HandleMessage.
const (
	MsgSkipWaiting      = "SKIP_WAITING"
	MsgCacheTranslation = "CACHE_TRANSLATION"
	MsgGetCacheSize     = "GET_CACHE_SIZE"
	MsgSync             = "SYNC"
)

const NotifyTranslationSynced = "translation-synced"

var (
	ErrUnknownMessage = ewrap.New("unknown message type")
	ErrBadMessage     = ewrap.New("malformed message")
)

type Message struct {
	Type        string          `json:"type"`
	Translation json.RawMessage `json:"translation,omitempty"`
}

type Reply struct {
	Type   string `json:"type"`
	Size   int    `json:"size"`
	Synced int    `json:"synced,omitempty"`
}

// Notification is pushed to every subscriber.
type Notification struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// HandleMessage executes one control message.
func (c *Coordinator) HandleMessage(ctx context.Context, m Message) (Reply, error) {
	reply := Reply{Type: m.Type}
	switch m.Type {
	case MsgSkipWaiting:
		return reply, c.SkipWaiting(ctx)
	case MsgCacheTranslation:
		return reply, c.CacheTranslation(m.Translation)
	case MsgGetCacheSize:
		n, err := c.caches.Count()
		if err != nil {
			c.log.Error("count cache entries", "err", err)
			return reply, nil
		}
		reply.Size = n
		return reply, nil
	case MsgSync:
		n, err := c.Reconcile(ctx)
		reply.Synced = n
		return reply, err
	default:
		return reply, ewrap.Wrapf(ErrUnknownMessage, "%q", m.Type)
	}
}

// CacheTranslation stores a translation under /api/translation/<id> in the
// dynamic bucket.
func (c *Coordinator) CacheTranslation(raw json.RawMessage) error {
	var t struct {
		ID json.RawMessage `json:"id"`
	}
	if len(raw) == 0 {
		return ewrap.Wrap(ErrBadMessage, "missing translation")
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return ewrap.Wrap(ErrBadMessage, err.Error())
	}
	id := translationID(t.ID)
	if id == "" {
		return ewrap.Wrap(ErrBadMessage, "translation has no id")
	}

	key := c.origin + "/api/translation/" + url.PathEscape(id)
	s := newSnapshot(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, []byte(raw), c.now().UnixNano())
	if err := c.dynamic.Put(key, s); err != nil {
		c.log.Error("cache translation", "id", id, "err", err)
		return err
	}
	return nil
}

// translationID accepts string and numeric ids.
func translationID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

// CacheSize is the number of entries across every bucket.
func (c *Coordinator) CacheSize() (int, error) { return c.caches.Count() }

// Subscribe registers a notification listener. Delivery never blocks: a full
// channel drops the notification for that subscriber.
func (c *Coordinator) Subscribe(buffer int) (<-chan Notification, func()) {
	return c.hub.subscribe(buffer)
}

func (c *Coordinator) notify(n Notification) {
	c.hub.publish(n)
}

type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Notification
	closed bool
}

func newHub() *hub { return &hub{subs: map[int]chan Notification{}} }

func (h *hub) subscribe(buffer int) (<-chan Notification, func()) {
	ch := make(chan Notification, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

func (h *hub) publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

func marshalJSON(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to marshal json")
	}
	return b, nil
}
