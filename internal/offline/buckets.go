package offline

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyp3rd/ewrap"
	"github.com/shamaton/msgpack/v2"
	"github.com/syndtr/goleveldb/leveldb"

	"offline0/internal/logger"
	"offline0/internal/storage"
)

// Key layout inside the shared leveldb:
//
//	b:<bucket>              bucket registry, value is creation time
//	e:<bucket>\x00<key>     msgpack Snapshot
//	m:<bucket>\x00<key>     msgpack entryMeta
const (
	prefixBucket = "b:"
	prefixEntry  = "e:"
	prefixMeta   = "m:"
)

type entryMeta struct {
	Size     int64
	StoredAt int64
}

// CacheStorage is the set of named buckets of this process.
type CacheStorage struct {
	db  *storage.DB
	log *logger.RateLimited

	mu      sync.Mutex
	buckets map[string]*Bucket
}

func NewCacheStorage(db *storage.DB, evictLog *logger.RateLimited) *CacheStorage {
	return &CacheStorage{db: db, log: evictLog, buckets: map[string]*Bucket{}}
}

// Open returns the named bucket, registering it on first use. maxBytes 0
// means unbounded.
func (cs *CacheStorage) Open(name string, maxBytes int64) (*Bucket, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if b, ok := cs.buckets[name]; ok {
		return b, nil
	}

	_, ok, err := cs.db.Lookup([]byte(prefixBucket + name))
	if err != nil {
		return nil, err
	}
	if !ok {
		ts := strconv.FormatInt(time.Now().UnixNano(), 10)
		if err := cs.db.Put([]byte(prefixBucket+name), []byte(ts), nil); err != nil {
			return nil, ewrap.Wrapf(err, "register bucket %s", name)
		}
	}

	b := &Bucket{name: name, db: cs.db, maxBytes: maxBytes, log: cs.log, index: map[string]entryMeta{}}
	if err := b.loadIndex(); err != nil {
		return nil, err
	}
	cs.buckets[name] = b
	return b, nil
}

// Names lists every registered bucket, including ones left by older builds.
func (cs *CacheStorage) Names() ([]string, error) {
	var out []string
	err := cs.db.Scan([]byte(prefixBucket), func(k, _ []byte) bool {
		out = append(out, string(k))
		return true
	})
	return out, err
}

// Delete removes a bucket and every entry in it.
func (cs *CacheStorage) Delete(name string) (bool, error) {
	_, ok, err := cs.db.Lookup([]byte(prefixBucket + name))
	if err != nil || !ok {
		return false, err
	}

	batch := new(leveldb.Batch)
	for _, p := range []string{prefixEntry, prefixMeta} {
		prefix := []byte(p + name + "\x00")
		err := cs.db.Scan(prefix, func(k, _ []byte) bool {
			batch.Delete(append(append([]byte{}, prefix...), k...))
			return true
		})
		if err != nil {
			return false, err
		}
	}
	batch.Delete([]byte(prefixBucket + name))
	if err := cs.db.Commit(batch); err != nil {
		return false, err
	}

	cs.mu.Lock()
	delete(cs.buckets, name)
	cs.mu.Unlock()
	return true, nil
}

// Count is the number of entries across every bucket.
func (cs *CacheStorage) Count() (int, error) {
	n := 0
	err := cs.db.Scan([]byte(prefixEntry), func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Bucket is a named container of key to Snapshot pairs.
type Bucket struct {
	name     string
	db       *storage.DB
	maxBytes int64
	log      *logger.RateLimited

	mu        sync.Mutex
	index     map[string]entryMeta
	totalSize int64
}

func (b *Bucket) Name() string { return b.name }

func (b *Bucket) entryKey(key string) []byte { return []byte(prefixEntry + b.name + "\x00" + key) }
func (b *Bucket) metaKey(key string) []byte  { return []byte(prefixMeta + b.name + "\x00" + key) }

func (b *Bucket) loadIndex() error {
	idx := map[string]entryMeta{}
	var total int64
	err := b.db.Scan([]byte(prefixMeta+b.name+"\x00"), func(k, v []byte) bool {
		var m entryMeta
		if err := msgpack.Unmarshal(v, &m); err != nil {
			return true
		}
		idx[string(k)] = m
		total += m.Size
		return true
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.index = idx
	b.totalSize = total
	b.mu.Unlock()
	return nil
}

// Match returns the stored snapshot for key.
func (b *Bucket) Match(key string) (Snapshot, bool) {
	v, ok, err := b.db.Lookup(b.entryKey(key))
	if err != nil || !ok {
		return Snapshot{}, false
	}
	s, err := decodeSnapshot(v)
	if err != nil {
		return Snapshot{}, false
	}
	return s, true
}

// Put stores s under key, replacing any earlier snapshot.
func (b *Bucket) Put(key string, s Snapshot) error {
	return b.PutAll(map[string]Snapshot{key: s})
}

// PutAll stores every snapshot in a single atomic batch.
func (b *Bucket) PutAll(snaps map[string]Snapshot) error {
	batch := new(leveldb.Batch)
	metas := make(map[string]entryMeta, len(snaps))
	for key, s := range snaps {
		eb, err := encodeSnapshot(s)
		if err != nil {
			return err
		}
		m := entryMeta{Size: int64(len(eb)), StoredAt: s.StoredAt}
		mb, err := msgpack.Marshal(&m)
		if err != nil {
			return ewrap.Wrap(err, "failed to marshal entry meta")
		}
		batch.Put(b.entryKey(key), eb)
		batch.Put(b.metaKey(key), mb)
		metas[key] = m
	}
	if err := b.db.Commit(batch); err != nil {
		return ewrap.Wrapf(err, "store into %s", b.name)
	}

	b.mu.Lock()
	for key, m := range metas {
		b.totalSize -= b.index[key].Size
		b.index[key] = m
		b.totalSize += m.Size
	}
	over := b.maxBytes > 0 && b.totalSize > b.maxBytes
	b.mu.Unlock()

	if over {
		return b.evictSome()
	}
	return nil
}

func (b *Bucket) Delete(key string) error {
	batch := new(leveldb.Batch)
	batch.Delete(b.entryKey(key))
	batch.Delete(b.metaKey(key))
	if err := b.db.Commit(batch); err != nil {
		return err
	}
	b.mu.Lock()
	if m, ok := b.index[key]; ok {
		b.totalSize -= m.Size
		delete(b.index, key)
	}
	b.mu.Unlock()
	return nil
}

func (b *Bucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.index))
	for k := range b.index {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (b *Bucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index)
}

func (b *Bucket) TotalSize() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalSize
}

// evictSome drops the oldest tenth of the bucket, at least one entry.
func (b *Bucket) evictSome() error {
	type item struct {
		key string
		m   entryMeta
	}
	b.mu.Lock()
	items := make([]item, 0, len(b.index))
	for k, m := range b.index {
		items = append(items, item{k, m})
	}
	total := b.totalSize
	b.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].m.StoredAt < items[j].m.StoredAt
	})

	n := len(items) / 10
	if n < 1 {
		n = 1
	}
	if b.log != nil {
		b.log.Warn("bucket over capacity, evicting",
			"bucket", b.name, "size", formatBytes(uint64(total)), "max", formatBytes(uint64(b.maxBytes)), "evict", n)
	}
	for i := 0; i < n && i < len(items); i++ {
		if err := b.Delete(items[i].key); err != nil {
			return err
		}
	}
	return nil
}

func hasNamespace(name, namespace string) bool {
	return namespace != "" && strings.HasPrefix(name, namespace)
}
