package offline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/longbridgeapp/assert"
)

func TestHandleMessage_CacheTranslationAndSize(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html", "/styles.css")

	reply, err := c.HandleMessage(context.Background(), Message{Type: MsgGetCacheSize})
	assert.Nil(t, err)
	assert.Equal(t, 2, reply.Size)

	_, err = c.HandleMessage(context.Background(), Message{
		Type:        MsgCacheTranslation,
		Translation: json.RawMessage(`{"id":42,"translatedText":"مرحبا"}`),
	})
	assert.Nil(t, err)

	s, ok := c.dynamic.Match(testOrigin + "/api/translation/42")
	assert.True(t, ok)
	assert.Equal(t, "application/json", s.Header.Get("Content-Type"))
	assert.Equal(t, `{"id":42,"translatedText":"مرحبا"}`, string(s.Body))

	reply, err = c.HandleMessage(context.Background(), Message{Type: MsgGetCacheSize})
	assert.Nil(t, err)
	assert.Equal(t, 3, reply.Size)

	// served offline through the API strategy
	net.setDown(true)
	resp := c.Fetch(context.Background(), get(t, testOrigin+"/api/translation/42"))
	assert.Equal(t, SourceStale, resp.Source)
}

func TestHandleMessage_Rejects(t *testing.T) {
	c := activeCoordinator(t, newFakeNet(), "/index.html")

	_, err := c.HandleMessage(context.Background(), Message{Type: "NOPE"})
	assert.True(t, errors.Is(err, ErrUnknownMessage))

	_, err = c.HandleMessage(context.Background(), Message{Type: MsgCacheTranslation, Translation: json.RawMessage(`{"text":"x"}`)})
	assert.True(t, errors.Is(err, ErrBadMessage))

	_, err = c.HandleMessage(context.Background(), Message{Type: MsgCacheTranslation})
	assert.True(t, errors.Is(err, ErrBadMessage))
}

func TestReconcile_DrainsSuccessesAndKeepsFailures(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	events, cancel := c.Subscribe(4)
	defer cancel()

	ctx := context.Background()
	first, err := c.Enqueue(ctx, []byte(`{"text":"hello","sourceLang":"en","targetLang":"ar"}`))
	assert.Nil(t, err)
	_, err = c.Enqueue(ctx, []byte(`{"text":"bye","sourceLang":"en","targetLang":"ar"}`))
	assert.Nil(t, err)

	net.setDown(true)
	n, err := c.Reconcile(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	pending, err := c.Pending()
	assert.Nil(t, err)
	assert.Equal(t, 2, len(pending))
	assert.Equal(t, first.ID, pending[0].ID)

	net.setDown(false)
	net.route(testOrigin+"/api/translate", `{"success":true}`)
	reply, err := c.HandleMessage(ctx, Message{Type: MsgSync})
	assert.Nil(t, err)
	assert.Equal(t, 2, reply.Synced)

	pending, err = c.Pending()
	assert.Nil(t, err)
	assert.Equal(t, 0, len(pending))

	select {
	case n := <-events:
		assert.Equal(t, NotifyTranslationSynced, n.Type)
		p, ok := n.Data.(PendingTranslation)
		assert.True(t, ok)
		assert.Equal(t, first.ID, p.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a translation-synced notification")
	}
}

func TestReconcile_RejectedItemStaysQueued(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	net.routeStatus(testOrigin+"/api/translate", http.StatusInternalServerError)

	_, err := c.Enqueue(context.Background(), []byte(`{"text":"x"}`))
	assert.Nil(t, err)

	n, err := c.Reconcile(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, 0, n)
	pending, err := c.Pending()
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pending))
}

func TestSubscribe_ClosedOnShutdown(t *testing.T) {
	c, _ := newTestCoordinator(t, testConfig("/index.html"), newFakeNet())
	events, cancel := c.Subscribe(1)
	c.Close()
	_, open := <-events
	assert.False(t, open)
	cancel()
}
