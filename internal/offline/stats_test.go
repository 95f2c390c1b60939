package offline

import (
	"testing"

	"github.com/longbridgeapp/assert"
)

func TestStatsCollector_SplitsBySource(t *testing.T) {
	s := newStatsCollector()
	assert.Equal(t, uint64(0), s.Snapshot().MinRespBytes)

	s.Observe(SourceHit, 100)
	s.Observe(SourceNetwork, 300)
	s.Observe(SourceStale, 200)
	s.Observe(SourceOffline, 5000)

	ss := s.Snapshot()
	assert.Equal(t, uint64(2), ss.FromCache)
	assert.Equal(t, uint64(1), ss.FromNetwork)
	assert.Equal(t, uint64(1), ss.Synthesized)
	assert.Equal(t, uint64(100), ss.MinRespBytes)
	assert.Equal(t, uint64(300), ss.MaxRespBytes)
	assert.Equal(t, uint64(200), ss.AvgRespBytes)
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		0:        "0b",
		1023:     "1023b",
		1024:     "1kb",
		1536:     "1.5kb",
		64 << 20: "64mb",
		3 << 29:  "1.5gb",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in))
	}
}
