package state

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/codex-core/codex-core/internal/metrics"
)

// RateLimitWindow is one of the two windows carried by a snapshot, per
// spec.md §3.
type RateLimitWindow struct {
	UsedPercent    float64
	WindowMinutes  *int
	ResetsInSecond *int
}

// ResetAt returns a human-readable reset timestamp, or "" if unknown.
func (w RateLimitWindow) ResetAt(now time.Time) string {
	if w.ResetsInSecond == nil {
		return ""
	}
	return now.Add(time.Duration(*w.ResetsInSecond) * time.Second).Format(time.RFC3339)
}

// RateLimitSnapshot carries the short (5h) and long (weekly) windows
// forwarded to the status surface on every turn completion (§4.D).
type RateLimitSnapshot struct {
	Short RateLimitWindow
	Long  RateLimitWindow
}

// RateLimitPublisher owns the process-wide atomic snapshot reference
// described in §4.G ("the engine updates a process-wide AtomicReference
// <RateLimitSnapshot> and emits a typed event").
type RateLimitPublisher struct {
	current atomic.Pointer[RateLimitSnapshot]
	metrics *metrics.Registry
}

// NewRateLimitPublisher wires a publisher to the process metrics registry so
// every update also refreshes the Prometheus gauges described in
// SPEC_FULL.md §3.
func NewRateLimitPublisher(m *metrics.Registry) *RateLimitPublisher {
	return &RateLimitPublisher{metrics: m}
}

// Publish stores snap as the current snapshot and updates metrics. Callers
// emit the corresponding event/turnCompleted notification separately; this
// type only owns the shared state, not the transport fan-out.
func (p *RateLimitPublisher) Publish(snap RateLimitSnapshot) {
	p.current.Store(&snap)
	if p.metrics != nil {
		p.metrics.SetRateLimitUsedPercent("short", snap.Short.UsedPercent)
		p.metrics.SetRateLimitUsedPercent("long", snap.Long.UsedPercent)
	}
}

// Current returns the most recently published snapshot, or nil if none has
// been published yet.
func (p *RateLimitPublisher) Current() *RateLimitSnapshot {
	return p.current.Load()
}

// String renders a snapshot for a human-facing status line.
func (s RateLimitSnapshot) String() string {
	return fmt.Sprintf("short=%.1f%% long=%.1f%%", s.Short.UsedPercent, s.Long.UsedPercent)
}
