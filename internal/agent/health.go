package agent

import (
	"sync/atomic"
	"time"
)

// HealthStatus tracks scheduler liveness for the status surfaces.
type HealthStatus struct {
	stallAfter time.Duration
	lastTickAt atomic.Int64
	ticks      atomic.Uint64
}

func NewHealthStatus(stallAfter time.Duration) *HealthStatus {
	if stallAfter <= 0 {
		stallAfter = 30 * time.Second
	}
	return &HealthStatus{stallAfter: stallAfter}
}

func (h *HealthStatus) MarkTick(ts time.Time) {
	h.lastTickAt.Store(ts.UnixNano())
	h.ticks.Add(1)
}

func (h *HealthStatus) LastTick() time.Time {
	v := h.lastTickAt.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (h *HealthStatus) Healthy(now time.Time) bool {
	last := h.LastTick()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= h.stallAfter
}

func (h *HealthStatus) Snapshot() map[string]any {
	out := map[string]any{"ticks": h.ticks.Load()}
	if last := h.LastTick(); !last.IsZero() {
		out["last_tick_at"] = last.UTC()
	}
	return out
}
