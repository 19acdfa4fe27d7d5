package relay

import (
	"reflect"
	"testing"
	"time"
)

func TestOrderEndpointsRateLimitedLast(t *testing.T) {
	now := time.Now()
	states := map[string]*endpointState{
		"wss://limited": {attempts: rateLimitThreshold, failures: 1, lastAttempt: now},
		"wss://clean":   {},
	}

	got := orderEndpoints([]string{"wss://limited", "wss://clean"}, states, now)
	want := []string{"wss://clean", "wss://limited"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderEndpointsFailureHistory(t *testing.T) {
	now := time.Now()
	states := map[string]*endpointState{
		"wss://flaky": {attempts: 2, failures: 1, lastAttempt: now},
	}

	got := orderEndpoints([]string{"wss://flaky", "wss://unseen"}, states, now)
	want := []string{"wss://unseen", "wss://flaky"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderEndpointsAttemptTiebreak(t *testing.T) {
	now := time.Now()
	states := map[string]*endpointState{
		"wss://busy":  {attempts: 3, failures: 1, lastAttempt: now},
		"wss://quiet": {attempts: 1, failures: 1, lastAttempt: now},
	}

	got := orderEndpoints([]string{"wss://busy", "wss://quiet"}, states, now)
	want := []string{"wss://quiet", "wss://busy"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestOrderEndpointsStableForTies(t *testing.T) {
	now := time.Now()
	urls := []string{"wss://a", "wss://b", "wss://c"}
	got := orderEndpoints(urls, map[string]*endpointState{}, now)
	if !reflect.DeepEqual(got, urls) {
		t.Errorf("configuration order not preserved: %v", got)
	}
}

func TestRateLimitMarkExpires(t *testing.T) {
	now := time.Now()
	state := &endpointState{}
	state.markRateLimited(now)

	if !state.rateLimited(now) {
		t.Fatal("endpoint should be rate-limited immediately after the mark")
	}
	if state.rateLimited(now.Add(rateLimitResetAfter + time.Second)) {
		t.Error("rate-limit mark should expire after the reset window")
	}

	// An attempt after expiry restarts the counter from zero
	state.noteAttempt(now.Add(rateLimitResetAfter + time.Second))
	if state.attempts != 1 {
		t.Errorf("attempts = %d after expiry, want 1", state.attempts)
	}
}

func TestNoteAttemptAccumulates(t *testing.T) {
	now := time.Now()
	state := &endpointState{}
	for i := 0; i < rateLimitThreshold; i++ {
		state.noteAttempt(now.Add(time.Duration(i) * time.Second))
	}
	if !state.rateLimited(now.Add(time.Duration(rateLimitThreshold) * time.Second)) {
		t.Error("endpoint should trip the threshold after repeated attempts")
	}
}
