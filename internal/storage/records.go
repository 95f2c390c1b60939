package storage

import (
	"context"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
)

// RecordStore is an append-only, ordered list of JSON records kept under a
// single namespaced key.
type RecordStore interface {
	Append(ctx context.Context, rec []byte) error
	List(ctx context.Context) ([][]byte, error)
}

// LevelRecords keeps the list as one JSON array value in leveldb.
type LevelRecords struct {
	db  *DB
	key []byte

	mu sync.Mutex
}

var _ RecordStore = (*LevelRecords)(nil)

func NewLevelRecords(db *DB, key string) *LevelRecords {
	return &LevelRecords{db: db, key: []byte("r:" + key)}
}

func (s *LevelRecords) Append(ctx context.Context, rec []byte) error {
	if !json.Valid(rec) {
		return ewrap.New("record is not valid json")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}
	list = append(list, json.RawMessage(rec))
	b, err := json.Marshal(list)
	if err != nil {
		return ewrap.Wrap(err, "encode records")
	}
	if err := s.db.Put(s.key, b, nil); err != nil {
		return ewrap.Wrap(err, "store records")
	}
	return nil
}

func (s *LevelRecords) List(ctx context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(list))
	for i, r := range list {
		out[i] = []byte(r)
	}
	return out, nil
}

func (s *LevelRecords) load() ([]json.RawMessage, error) {
	b, ok, err := s.db.Lookup(s.key)
	if err != nil || !ok {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal(b, &list); err != nil {
		return nil, ewrap.Wrap(err, "decode records")
	}
	return list, nil
}
