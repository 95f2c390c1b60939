package storage

import (
	"context"
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestLevelRecords_AppendKeepsOrder(t *testing.T) {
	db, err := OpenMem()
	assert.Nil(t, err)
	defer db.Close()

	s := NewLevelRecords(db, "fallback-translations")
	ctx := context.Background()

	list, err := s.List(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 0, len(list))

	assert.Nil(t, s.Append(ctx, []byte(`{"id":"1"}`)))
	assert.Nil(t, s.Append(ctx, []byte(`{"id":"2"}`)))

	list, err = s.List(ctx)
	assert.Nil(t, err)
	assert.Equal(t, 2, len(list))
	assert.Equal(t, `{"id":"1"}`, string(list[0]))
	assert.Equal(t, `{"id":"2"}`, string(list[1]))
}

func TestLevelRecords_RejectsInvalidJSON(t *testing.T) {
	db, err := OpenMem()
	assert.Nil(t, err)
	defer db.Close()

	s := NewLevelRecords(db, "k")
	err = s.Append(context.Background(), []byte(`{not json`))
	assert.True(t, err != nil)

	list, err := s.List(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, 0, len(list))
}

func TestLevelRecords_SeparateKeys(t *testing.T) {
	db, err := OpenMem()
	assert.Nil(t, err)
	defer db.Close()

	a := NewLevelRecords(db, "a")
	b := NewLevelRecords(db, "b")
	assert.Nil(t, a.Append(context.Background(), []byte(`1`)))

	list, err := b.List(context.Background())
	assert.Nil(t, err)
	assert.Equal(t, 0, len(list))
}

func TestDB_ScanStripsPrefix(t *testing.T) {
	db, err := OpenMem()
	assert.Nil(t, err)
	defer db.Close()

	assert.Nil(t, db.Put([]byte("x:b"), []byte("2"), nil))
	assert.Nil(t, db.Put([]byte("x:a"), []byte("1"), nil))
	assert.Nil(t, db.Put([]byte("y:c"), []byte("3"), nil))

	var keys []string
	err = db.Scan([]byte("x:"), func(k, _ []byte) bool {
		keys = append(keys, string(k))
		return true
	})
	assert.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	_, ok, err := db.Lookup([]byte("missing"))
	assert.Nil(t, err)
	assert.False(t, ok)
}
