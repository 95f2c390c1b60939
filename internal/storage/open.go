package storage

import (
	"context"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/redis/go-redis/v9"

	"offline0/internal/config"
)

// OpenRecords builds the record store selected by storage.records.backend.
// The returned close func releases the backend's connections, not db.
func OpenRecords(ctx context.Context, cfg config.Config, db *DB) (RecordStore, func() error, error) {
	r := cfg.Storage.Records
	switch r.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     r.Redis.Addr,
			Password: r.Redis.Password,
			DB:       r.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, ewrap.Wrapf(err, "redis ping %s", r.Redis.Addr)
		}
		return NewRedisRecords(rdb, r.Key), rdb.Close, nil
	default:
		return NewLevelRecords(db, r.Key), func() error { return nil }, nil
	}
}
