package offline

import (
	"errors"
	"net/http"
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestDecodeSnapshot_DetectsCorruptBody(t *testing.T) {
	good := newSnapshot(http.StatusOK, http.Header{"Content-Type": {"text/html"}}, []byte("<html>"), 1)

	tests := []struct {
		name    string
		mutate  func(*Snapshot)
		wantErr error
	}{
		{"intact", func(*Snapshot) {}, nil},
		{"body changed", func(s *Snapshot) { s.Body = []byte("<html>!") }, ErrCorruptSnapshot},
		{"digest changed", func(s *Snapshot) { s.Digest++ }, ErrCorruptSnapshot},
		{"no digest", func(s *Snapshot) { s.Digest = 0; s.Body = []byte("anything") }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := good
			s.Body = append([]byte(nil), good.Body...)
			tt.mutate(&s)
			b, err := encodeSnapshot(s)
			assert.NoError(t, err)

			got, err := decodeSnapshot(b)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, string(s.Body), string(got.Body))
		})
	}
}

func TestSnapshot_ETag(t *testing.T) {
	s := newSnapshot(http.StatusOK, nil, []byte("body"), 1)
	assert.True(t, s.ETag() != "")
	assert.Equal(t, s.ETag(), newSnapshot(http.StatusOK, nil, []byte("body"), 2).ETag())
	assert.True(t, s.ETag() != newSnapshot(http.StatusOK, nil, []byte("other"), 1).ETag())

	upstream := newSnapshot(http.StatusOK, http.Header{"Etag": {`"v1"`}}, []byte("body"), 1)
	assert.Equal(t, `"v1"`, upstream.ETag())

	assert.Equal(t, "", offlineText("offline").ETag())
}

func TestBucket_CorruptEntryIsAMiss(t *testing.T) {
	net := newFakeNet()
	c := activeCoordinator(t, net, "/index.html")
	b := c.static

	s, ok := b.Match(testOrigin + "/index.html")
	assert.True(t, ok)

	s.Digest++
	raw, err := encodeSnapshot(s)
	assert.NoError(t, err)
	assert.NoError(t, b.db.Put(b.entryKey(testOrigin+"/index.html"), raw, nil))

	_, ok = b.Match(testOrigin + "/index.html")
	assert.False(t, ok)
}
