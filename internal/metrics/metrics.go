// Package metrics is a small in-process counter and gauge registry exposed
// over the daemon's JSON metrics endpoint.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Registry holds named counters and gauges. The zero value is not usable;
// call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*atomic.Int64
	gauges   map[string]*atomic.Int64
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]*atomic.Int64),
		gauges:   make(map[string]*atomic.Int64),
	}
}

// Counter returns the named counter, creating it at zero on first use.
func (r *Registry) Counter(name string) *atomic.Int64 {
	return r.lookup(r.counters, name)
}

// Gauge returns the named gauge, creating it at zero on first use.
func (r *Registry) Gauge(name string) *atomic.Int64 {
	return r.lookup(r.gauges, name)
}

func (r *Registry) lookup(table map[string]*atomic.Int64, name string) *atomic.Int64 {
	r.mu.RLock()
	v, ok := table[name]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := table[name]; ok {
		return v
	}
	v = &atomic.Int64{}
	table[name] = v
	return v
}

// Snapshot returns all current values, counters and gauges merged, in a map
// stable enough to serialize.
func (r *Registry) Snapshot() map[string]int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int64, len(r.counters)+len(r.gauges))
	for name, v := range r.counters {
		out[name] = v.Load()
	}
	for name, v := range r.gauges {
		out[name] = v.Load()
	}
	return out
}

// Names returns all registered metric names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.counters)+len(r.gauges))
	for name := range r.counters {
		names = append(names, name)
	}
	for name := range r.gauges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Well-known metric names used across the daemon.
const (
	JobsClaimed        = "jobs_claimed_total"
	JobsAccepted       = "jobs_accepted_total"
	JobsUnmatched      = "jobs_unmatched_total"
	JobsFailed         = "jobs_failed_total"
	JobsRequeued       = "jobs_requeued_total"
	InferencePrimary   = "inference_primary_total"
	InferenceFallback  = "inference_fallback_total"
	RerankOverwrites   = "rerank_overwrites_total"
	RerankHints        = "rerank_hints_total"
	RerankDiscards     = "rerank_discards_total"
	RetrievalFallbacks = "retrieval_fallbacks_total"
	KeepwarmProbes     = "keepwarm_probes_total"
	ShadowSampled      = "shadow_sampled_total"
	QueueDepth         = "queue_depth"
	ShadowGateEnabled  = "shadow_gate_enabled"
)
