//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/longbridgeapp/assert"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) *redis.Client {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get container endpoint: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisRecords_AppendAndList(t *testing.T) {
	rdb := setupRedis(t)
	s := NewRedisRecords(rdb, "fallback-translations")
	ctx := context.Background()

	assert.Nil(t, s.Append(ctx, []byte(`{"id":"a"}`)))
	assert.Nil(t, s.Append(ctx, []byte(`{"id":"b"}`)))

	list, err := s.List(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(list))
	assert.Equal(t, `{"id":"a"}`, string(list[0]))
	assert.Equal(t, `{"id":"b"}`, string(list[1]))
}
