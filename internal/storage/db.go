// Package storage holds the durable stores behind the offline cache and the
// API client's local fallback records.
package storage

import (
	"bytes"
	"errors"

	"github.com/hyp3rd/ewrap"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// DB is a leveldb handle shared by every store of the process. Each store
// owns a key prefix.
type DB struct {
	*leveldb.DB
}

func Open(path string) (*DB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, ewrap.Wrapf(err, "open leveldb %s", path)
	}
	return &DB{DB: db}, nil
}

// OpenMem opens a DB backed by memory only.
func OpenMem() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, ewrap.Wrap(err, "open in-memory leveldb")
	}
	return &DB{DB: db}, nil
}

// Lookup returns the value for key; ok is false when the key is absent.
func (d *DB) Lookup(key []byte) (val []byte, ok bool, err error) {
	val, err = d.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, ewrap.Wrap(err, "leveldb get")
	}
	return val, true, nil
}

// Scan calls fn for every key under prefix in key order, with the prefix
// stripped. Returning false stops the scan.
func (d *DB) Scan(prefix []byte, fn func(key, val []byte) bool) error {
	it := d.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	for it.Next() {
		if !fn(bytes.TrimPrefix(it.Key(), prefix), it.Value()) {
			break
		}
	}
	if err := it.Error(); err != nil {
		return ewrap.Wrap(err, "leveldb scan")
	}
	return nil
}

// Commit writes the batch atomically.
func (d *DB) Commit(b *leveldb.Batch) error {
	if err := d.Write(b, nil); err != nil {
		return ewrap.Wrap(err, "leveldb write")
	}
	return nil
}
