package offline

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// statsCollector tracks served responses by where they came from.
type statsCollector struct {
	fromCache   atomic.Uint64
	fromNetwork atomic.Uint64
	synthesized atomic.Uint64

	totalRespBytes atomic.Uint64
	minRespBytes   atomic.Uint64
	maxRespBytes   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minRespBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(src Source, respBytes int) {
	switch src {
	case SourceHit, SourceStale, SourceShell:
		s.fromCache.Add(1)
	case SourceMiss, SourceNetwork, SourceBypass:
		s.fromNetwork.Add(1)
	default:
		s.synthesized.Add(1)
		return
	}

	if respBytes < 0 {
		respBytes = 0
	}
	n := uint64(respBytes)
	s.totalRespBytes.Add(n)
	for {
		cur := s.minRespBytes.Load()
		if n >= cur || s.minRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxRespBytes.Load()
		if n <= cur || s.maxRespBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	FromCache    uint64
	FromNetwork  uint64
	Synthesized  uint64
	MinRespBytes uint64
	MaxRespBytes uint64
	AvgRespBytes uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	out := statsSnapshot{
		FromCache:   s.fromCache.Load(),
		FromNetwork: s.fromNetwork.Load(),
		Synthesized: s.synthesized.Load(),
	}
	served := out.FromCache + out.FromNetwork
	if served == 0 {
		return out
	}
	out.MinRespBytes = s.minRespBytes.Load()
	if out.MinRespBytes == math.MaxUint64 {
		out.MinRespBytes = 0
	}
	out.MaxRespBytes = s.maxRespBytes.Load()
	out.AvgRespBytes = s.totalRespBytes.Load() / served
	return out
}

func (c *Coordinator) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			ss := c.stats.Snapshot()
			entries, _ := c.caches.Count()
			rss := "n/a"
			if n, ok := residentBytes(); ok {
				rss = formatBytes(n)
			}
			c.log.Info("cache stats",
				"entries", entries,
				"rss", rss,
				"static", formatBytes(uint64(c.static.TotalSize())),
				"dynamic", formatBytes(uint64(c.dynamic.TotalSize())),
				"fromCache", ss.FromCache,
				"fromNetwork", ss.FromNetwork,
				"synthesized", ss.Synthesized,
				"resp", fmt.Sprintf("%s/%s/%s",
					formatBytes(ss.MinRespBytes), formatBytes(ss.AvgRespBytes), formatBytes(ss.MaxRespBytes)),
			)
		}
	}
}

func formatBytes(b uint64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b < kb:
		return fmt.Sprintf("%db", b)
	case b < mb:
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/kb)) + "kb"
	case b < gb:
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/mb)) + "mb"
	default:
		return trimFloat(fmt.Sprintf("%.1f", float64(b)/gb)) + "gb"
	}
}

func trimFloat(s string) string {
	return strings.TrimSuffix(strings.TrimSpace(s), ".0")
}
