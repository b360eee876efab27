// Package health implements the failure-rate circuit breaker. It gates new
// request submissions only: the manual and emergency recovery strategies
// must stay available precisely while the primary path is unhealthy.
package health

import (
	"sync"
	"time"
)

// SystemHealth tracks consecutive primary-fulfillment failures and pauses
// new submissions once the threshold is hit. Explicitly constructed and
// injected, never a package-level singleton, so tests can run independent
// instances side by side.
type SystemHealth struct {
	mu        sync.Mutex
	threshold uint
	cooldown  time.Duration
	now       func() time.Time

	paused              bool
	consecutiveFailures uint
	lastFailureAt       time.Time
}

// Status is a point-in-time snapshot of the breaker.
type Status struct {
	Paused              bool      `json:"paused"`
	ConsecutiveFailures uint      `json:"consecutive_failures"`
	LastFailureAt       time.Time `json:"last_failure_at"`
}

// New creates a breaker that pauses after threshold consecutive failures
// and self-resets once cooldown elapses after the last failure. now
// defaults to time.Now.
func New(threshold uint, cooldown time.Duration, now func() time.Time) *SystemHealth {
	if now == nil {
		now = time.Now
	}
	return &SystemHealth{
		threshold: threshold,
		cooldown:  cooldown,
		now:       now,
	}
}

// RecordFailure counts one primary-fulfillment failure and reports whether
// the breaker is now paused.
func (h *SystemHealth) RecordFailure() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.lastFailureAt = h.now()
	if h.consecutiveFailures >= h.threshold {
		h.paused = true
	}
	return h.paused
}

// RecordSuccess resets the consecutive-failure count. An active pause is
// left in place: only owner action or cooldown expiry clears it.
func (h *SystemHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures = 0
}

// Paused reports whether submissions are gated, applying the cooldown
// lazily: once now - lastFailureAt > cooldown the breaker resets itself.
func (h *SystemHealth) Paused() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maybeExpire()
	return h.paused
}

// Reset clears the breaker on owner action.
func (h *SystemHealth) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.paused = false
	h.consecutiveFailures = 0
	h.lastFailureAt = time.Time{}
}

// Snapshot returns the current breaker state.
func (h *SystemHealth) Snapshot() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.maybeExpire()
	return Status{
		Paused:              h.paused,
		ConsecutiveFailures: h.consecutiveFailures,
		LastFailureAt:       h.lastFailureAt,
	}
}

// maybeExpire applies the cooldown. Caller must hold h.mu.
func (h *SystemHealth) maybeExpire() {
	if h.consecutiveFailures == 0 && !h.paused {
		return
	}
	if h.now().Sub(h.lastFailureAt) > h.cooldown {
		h.paused = false
		h.consecutiveFailures = 0
	}
}
