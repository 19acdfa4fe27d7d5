// Package relay maintains the pool of relay connections: dialing with
// backoff and rate-limit awareness, fan-out queries, and publishing.
// Relays are untrusted and individually unreliable; partial success is the
// normal case, not an error.
package relay

import (
	"sort"
	"time"
)

const (
	// An endpoint whose attempt counter reaches this threshold is treated
	// as rate-limited and tried last.
	rateLimitThreshold = 5

	// The rate-limit mark expires after this much endpoint inactivity.
	rateLimitResetAfter = 60 * time.Second
)

// endpointState tracks per-endpoint connection history.
type endpointState struct {
	attempts    int
	failures    int
	lastAttempt time.Time
}

// expired reports whether the endpoint's recent-attempt history has aged out.
func (s *endpointState) expired(now time.Time) bool {
	return !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) >= rateLimitResetAfter
}

// rateLimited reports whether the endpoint currently carries a rate-limit mark.
func (s *endpointState) rateLimited(now time.Time) bool {
	if s.expired(now) {
		return false
	}
	return s.attempts >= rateLimitThreshold
}

// noteAttempt records a connection attempt, first decaying expired history.
func (s *endpointState) noteAttempt(now time.Time) {
	if s.expired(now) {
		s.attempts = 0
	}
	s.attempts++
	s.lastAttempt = now
}

// markRateLimited inflates the attempt counter past the threshold so the
// endpoint sorts last until the reset window elapses.
func (s *endpointState) markRateLimited(now time.Time) {
	s.attempts = rateLimitThreshold
	s.failures++
	s.lastAttempt = now
}

// orderEndpoints sorts endpoints for a connection round: endpoints with no
// failure history first, rate-limited endpoints last, and among the rest,
// fewer recent attempts first. The sort is stable so configuration order
// breaks remaining ties.
func orderEndpoints(urls []string, states map[string]*endpointState, now time.Time) []string {
	ordered := make([]string, len(urls))
	copy(ordered, urls)

	rank := func(url string) int {
		state, ok := states[url]
		if !ok || state.expired(now) {
			return 0
		}
		if state.rateLimited(now) {
			return 2
		}
		if state.failures == 0 {
			return 0
		}
		return 1
	}
	attempts := func(url string) int {
		if state, ok := states[url]; ok && !state.expired(now) {
			return state.attempts
		}
		return 0
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := rank(ordered[i]), rank(ordered[j])
		if ri != rj {
			return ri < rj
		}
		return attempts(ordered[i]) < attempts(ordered[j])
	})
	return ordered
}
