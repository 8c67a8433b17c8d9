package pairing

import (
	"sync"
	"time"
)

// AttemptTracker counts consecutive authentication failures per peer address
// and computes how long further attempts to that address are held back.
// Repeated wrong codes against the same host look like online guessing.
//
// Backoff tiers by attempt number since the last success:
//   - attempts 1-3: tier 0 (normal typos)
//   - attempts 4-6: tier 1
//   - attempts 7-10: tier 2
//   - attempts 11+: tier 3
//
// A success resets the address.
type AttemptTracker struct {
	mu    sync.Mutex
	tiers [4]time.Duration
	peers map[string]*attemptRecord
}

type attemptRecord struct {
	failures    int
	lastFailure time.Time
}

// DefaultBackoffTiers holds the default delays per tier.
var DefaultBackoffTiers = [4]time.Duration{0, 5 * time.Second, 30 * time.Second, 5 * time.Minute}

// NewAttemptTracker creates a tracker with the given tier delays.
func NewAttemptTracker(tiers [4]time.Duration) *AttemptTracker {
	return &AttemptTracker{
		tiers: tiers,
		peers: make(map[string]*attemptRecord),
	}
}

// Delay returns the hold-back delay before the next attempt after failures
// consecutive failures.
func (t *AttemptTracker) Delay(failures int) time.Duration {
	// failures counts past attempts, so the next one is failures+1.
	attempt := failures + 1
	switch {
	case attempt <= 3:
		return t.tiers[0]
	case attempt <= 6:
		return t.tiers[1]
	case attempt <= 10:
		return t.tiers[2]
	default:
		return t.tiers[3]
	}
}

// Blocked returns the remaining hold-back time for address at now, or zero.
func (t *AttemptTracker) Blocked(address string, now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.peers[address]
	if !ok || rec.failures == 0 {
		return 0
	}
	until := rec.lastFailure.Add(t.Delay(rec.failures))
	if !now.Before(until) {
		return 0
	}
	return until.Sub(now)
}

// RecordFailure counts one authentication failure for address.
func (t *AttemptTracker) RecordFailure(address string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.peers[address]
	if !ok {
		rec = &attemptRecord{}
		t.peers[address] = rec
	}
	rec.failures++
	rec.lastFailure = now
}

// Reset clears the failures for address.
func (t *AttemptTracker) Reset(address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, address)
}

// Failures returns the consecutive failure count for address.
func (t *AttemptTracker) Failures(address string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if rec, ok := t.peers[address]; ok {
		return rec.failures
	}
	return 0
}
