// Package metrics keeps in-process pipeline counters and stage timings
// for the /metrics snapshot endpoint.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Counter names used across the pipeline.
const (
	TriageSuccess  = "triage_success"
	JobRetry       = "job_retry"
	SchemaFailure  = "schema_failure"
	TemplateReport = "template_report"
	ClaimRejected  = "claim_rejected"
	DeadLetter     = "dead_letter"
	JobResponded   = "job_responded"
	JobHandoff     = "job_handoff"
	ToolDropped    = "tool_dropped"
	ToolFailure    = "tool_failure"
	EvidenceCached = "evidence_cache_hit"
)

const maxSamples = 1024

// Registry accumulates counters and duration samples. Safe for
// concurrent use by the worker pool and HTTP handlers.
type Registry struct {
	mu       sync.Mutex
	counters map[string]int64
	timings  map[string]*ring
}

type ring struct {
	samples []float64
	next    int
	full    bool
}

func (r *ring) add(v float64) {
	if len(r.samples) < maxSamples {
		r.samples = append(r.samples, v)
		return
	}
	r.samples[r.next] = v
	r.next = (r.next + 1) % maxSamples
	r.full = true
}

func New() *Registry {
	return &Registry{
		counters: make(map[string]int64),
		timings:  make(map[string]*ring),
	}
}

// Inc increments a named counter by one.
func (r *Registry) Inc(name string) {
	r.mu.Lock()
	r.counters[name]++
	r.mu.Unlock()
}

// Observe records a stage duration. Only the most recent samples are
// kept per name.
func (r *Registry) Observe(name string, d time.Duration) {
	r.mu.Lock()
	rg, ok := r.timings[name]
	if !ok {
		rg = &ring{}
		r.timings[name] = rg
	}
	rg.add(float64(d.Milliseconds()))
	r.mu.Unlock()
}

// TimingStats summarizes the retained samples for one timing name.
type TimingStats struct {
	Count int     `json:"count"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
}

// Snapshot is a point-in-time copy of all counters and timing summaries.
type Snapshot struct {
	Counters map[string]int64       `json:"counters"`
	Timings  map[string]TimingStats `json:"timings"`
}

// Snapshot copies the current state for serving.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(r.counters)),
		Timings:  make(map[string]TimingStats, len(r.timings)),
	}
	for k, v := range r.counters {
		snap.Counters[k] = v
	}
	for k, rg := range r.timings {
		snap.Timings[k] = summarize(rg)
	}
	return snap
}

func summarize(rg *ring) TimingStats {
	n := len(rg.samples)
	if n == 0 {
		return TimingStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, rg.samples)
	sort.Float64s(sorted)
	return TimingStats{
		Count: n,
		P50Ms: percentile(sorted, 0.50),
		P95Ms: percentile(sorted, 0.95),
	}
}

// percentile uses nearest-rank on an already sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p*float64(len(sorted))+0.5) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
