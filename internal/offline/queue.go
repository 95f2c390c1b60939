package offline

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/hyp3rd/ewrap"

	"offline0/internal/storage"
)

const prefixQueue = "q:"

// PendingTranslation is a translation request that could not reach the
// network and waits for the next reconciliation pass.
type PendingTranslation struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	QueuedAt string          `json:"queuedAt"`
}

// Queue persists pending translations in leveldb. Ids are UUIDv7 so key order
// is queue order.
type Queue struct {
	db  *storage.DB
	now func() time.Time
}

func NewQueue(db *storage.DB, now func() time.Time) *Queue {
	return &Queue{db: db, now: now}
}

func (q *Queue) Add(payload []byte) (PendingTranslation, error) {
	if !json.Valid(payload) {
		return PendingTranslation{}, ewrap.New("pending translation is not valid json")
	}
	id, err := uuid.NewV7()
	if err != nil {
		return PendingTranslation{}, ewrap.Wrap(err, "generate id")
	}
	p := PendingTranslation{
		ID:       id.String(),
		Payload:  json.RawMessage(payload),
		QueuedAt: q.now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.Marshal(p)
	if err != nil {
		return PendingTranslation{}, ewrap.Wrap(err, "encode pending translation")
	}
	if err := q.db.Put([]byte(prefixQueue+p.ID), b, nil); err != nil {
		return PendingTranslation{}, ewrap.Wrap(err, "store pending translation")
	}
	return p, nil
}

func (q *Queue) List() ([]PendingTranslation, error) {
	var out []PendingTranslation
	var decodeErr error
	err := q.db.Scan([]byte(prefixQueue), func(_, v []byte) bool {
		var p PendingTranslation
		if err := json.Unmarshal(v, &p); err != nil {
			decodeErr = ewrap.Wrap(err, "decode pending translation")
			return false
		}
		out = append(out, p)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, decodeErr
}

func (q *Queue) Remove(id string) error {
	if err := q.db.Delete([]byte(prefixQueue+id), nil); err != nil {
		return ewrap.Wrapf(err, "remove pending translation %s", id)
	}
	return nil
}

// Enqueue stores a translation payload for the next reconciliation pass.
func (c *Coordinator) Enqueue(ctx context.Context, payload []byte) (PendingTranslation, error) {
	p, err := c.queue.Add(payload)
	if err != nil {
		return PendingTranslation{}, err
	}
	c.log.Info("queued translation for sync", "id", p.ID)
	return p, nil
}

// Pending lists queued translations in queue order.
func (c *Coordinator) Pending() ([]PendingTranslation, error) { return c.queue.List() }

// Reconcile re-issues every queued translation to the sync endpoint. Items
// that succeed are removed and announced with a translation-synced
// notification; failed items stay queued for the next pass.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	pending, err := c.queue.List()
	if err != nil {
		return 0, err
	}
	synced := 0
	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		req, err := newJSONRequest(ctx, http.MethodPost, c.syncURL.String(), p.Payload)
		if err != nil {
			return synced, err
		}
		s, err := c.fetchNetwork(ctx, req)
		if err != nil {
			c.log.Warn("sync translation failed", "id", p.ID, "err", err)
			continue
		}
		if !s.OK() {
			c.log.Warn("sync translation rejected", "id", p.ID, "status", s.Status)
			continue
		}
		if err := c.queue.Remove(p.ID); err != nil {
			return synced, err
		}
		synced++
		c.notify(Notification{Type: NotifyTranslationSynced, Data: p})
	}
	if len(pending) > 0 {
		c.log.Info("sync pass done", "pending", len(pending), "synced", synced)
	}
	return synced, nil
}

func (c *Coordinator) syncLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if _, err := c.Reconcile(ctx); err != nil {
				c.log.Error("periodic sync", "err", err)
			}
			cancel()
		}
	}
}
