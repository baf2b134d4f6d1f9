// Package metrics provides Prometheus instrumentation for the storage
// engine. Metrics register against an injected Registerer so independent
// pagers (and tests) never collide on registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	Evictions      prometheus.Counter
	PagesAllocated prometheus.Counter
	PagesFreed     prometheus.Counter
	CommitsTotal   prometheus.Counter
	CommitPages    prometheus.Counter
	Checkpoints    prometheus.Counter
	WalFrames      prometheus.Counter
}

// New creates and registers the engine metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_cache_hits_total",
			Help: "Buffer pool lookups served from a resident frame",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_cache_misses_total",
			Help: "Buffer pool lookups that loaded a page from disk",
		}),
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_evictions_total",
			Help: "Frames evicted from the buffer pool",
		}),
		PagesAllocated: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_pages_allocated_total",
			Help: "Pages allocated (freelist pops and file extensions)",
		}),
		PagesFreed: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_pages_freed_total",
			Help: "Pages returned to the freelist",
		}),
		CommitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_commits_total",
			Help: "Committed transactions",
		}),
		CommitPages: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_commit_pages_total",
			Help: "Dirty pages written by commits",
		}),
		Checkpoints: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_pager_checkpoints_total",
			Help: "Checkpoint operations",
		}),
		WalFrames: factory.NewCounter(prometheus.CounterOpts{
			Name: "keel_wal_frames_applied_total",
			Help: "WAL frames applied to the database file by recovery or checkpoint",
		}),
	}
}
