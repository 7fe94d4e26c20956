package resolver

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of the resolver counters.
type MetricsSnapshot struct {
	CacheHits       uint64
	CacheMisses     uint64
	ExistenceChecks uint64
	Downloads       uint64
	FetchErrors     uint64
	PromptsShown    uint64
	Recorded        uint64
}

type metrics struct {
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64
	existenceChecks atomic.Uint64
	downloads       atomic.Uint64
	fetchErrors     atomic.Uint64
	promptsShown    atomic.Uint64
	recorded        atomic.Uint64
}

func (m *metrics) snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		ExistenceChecks: m.existenceChecks.Load(),
		Downloads:       m.downloads.Load(),
		FetchErrors:     m.fetchErrors.Load(),
		PromptsShown:    m.promptsShown.Load(),
		Recorded:        m.recorded.Load(),
	}
}
