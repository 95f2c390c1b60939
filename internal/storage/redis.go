package storage

import (
	"context"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"
)

// RedisRecords keeps the list in a redis list so several offline0 processes
// can share their fallback records.
type RedisRecords struct {
	rdb *redis.Client
	key string
}

var _ RecordStore = (*RedisRecords)(nil)

func NewRedisRecords(rdb *redis.Client, key string) *RedisRecords {
	return &RedisRecords{rdb: rdb, key: key}
}

func (s *RedisRecords) Append(ctx context.Context, rec []byte) error {
	if err := s.rdb.RPush(ctx, s.key, rec).Err(); err != nil {
		return ewrap.Wrap(err, "redis rpush")
	}
	return nil
}

func (s *RedisRecords) List(ctx context.Context) ([][]byte, error) {
	vals, err := s.rdb.LRange(ctx, s.key, 0, -1).Result()
	if err != nil {
		return nil, ewrap.Wrap(err, "redis lrange")
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}
