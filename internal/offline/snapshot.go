package offline

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/hyp3rd/ewrap"
	"github.com/shamaton/msgpack/v2"
)

// Snapshot is a stored response. It is never mutated after it is stored;
// storing the same key again replaces it.
type Snapshot struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix nanoseconds
	Digest   uint64
}

// ErrCorruptSnapshot reports a stored body that no longer matches its digest.
var ErrCorruptSnapshot = ewrap.New("snapshot body does not match its digest")

func (s Snapshot) OK() bool { return s.Status >= 200 && s.Status < 300 }

// ETag is the upstream validator when there is one, otherwise a strong tag
// derived from the body digest. Synthesized snapshots have neither.
func (s Snapshot) ETag() string {
	if tag := s.Header.Get("ETag"); tag != "" {
		return tag
	}
	if s.Digest == 0 {
		return ""
	}
	return `"` + strconv.FormatUint(s.Digest, 16) + `"`
}

func newSnapshot(status int, h http.Header, body []byte, now int64) Snapshot {
	h = cloneHeader(h)
	h.Del("Content-Length")
	return Snapshot{
		Status:   status,
		Header:   h,
		Body:     body,
		StoredAt: now,
		Digest:   xxhash.Sum64(body),
	}
}

func encodeSnapshot(s Snapshot) ([]byte, error) {
	b, err := msgpack.Marshal(&s)
	if err != nil {
		return nil, ewrap.Wrap(err, "failed to marshal snapshot")
	}
	return b, nil
}

func decodeSnapshot(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return Snapshot{}, ewrap.Wrap(err, "failed to unmarshal snapshot")
	}
	if s.Digest != 0 && xxhash.Sum64(s.Body) != s.Digest {
		return Snapshot{}, ErrCorruptSnapshot
	}
	if s.Header == nil {
		s.Header = make(http.Header)
	}
	return s, nil
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
