package pairing

import (
	"testing"
	"time"
)

func TestAttemptTracker_Delay(t *testing.T) {
	tracker := NewAttemptTracker([4]time.Duration{0, time.Second, 3 * time.Second, 10 * time.Second})

	tests := []struct {
		name     string
		failures int
		want     time.Duration
	}{
		{"attempt 1", 0, 0},
		{"attempt 3", 2, 0},
		{"attempt 4", 3, time.Second},
		{"attempt 6", 5, time.Second},
		{"attempt 7", 6, 3 * time.Second},
		{"attempt 10", 9, 3 * time.Second},
		{"attempt 11", 10, 10 * time.Second},
		{"attempt 20", 19, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tracker.Delay(tt.failures); got != tt.want {
				t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
			}
		})
	}
}

func TestAttemptTracker_Blocked(t *testing.T) {
	tracker := NewAttemptTracker([4]time.Duration{0, time.Minute, time.Hour, time.Hour})
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	const addr = "192.0.2.5:5555"

	if got := tracker.Blocked(addr, now); got != 0 {
		t.Fatalf("unknown address blocked for %v", got)
	}

	for i := 0; i < 3; i++ {
		tracker.RecordFailure(addr, now)
	}
	if got := tracker.Failures(addr); got != 3 {
		t.Fatalf("Failures() = %d, want 3", got)
	}

	if got := tracker.Blocked(addr, now.Add(20*time.Second)); got != 40*time.Second {
		t.Errorf("Blocked() = %v, want 40s", got)
	}
	if got := tracker.Blocked(addr, now.Add(time.Minute)); got != 0 {
		t.Errorf("Blocked() after delay = %v, want 0", got)
	}
	if got := tracker.Blocked("192.0.2.6:5555", now); got != 0 {
		t.Errorf("other address blocked for %v", got)
	}

	tracker.Reset(addr)
	if got := tracker.Failures(addr); got != 0 {
		t.Errorf("Failures() after reset = %d, want 0", got)
	}
	if got := tracker.Blocked(addr, now); got != 0 {
		t.Errorf("Blocked() after reset = %v, want 0", got)
	}
}

func TestAttemptTracker_DefaultTiers(t *testing.T) {
	tracker := NewAttemptTracker(DefaultBackoffTiers)

	if got := tracker.Delay(0); got != 0 {
		t.Errorf("first attempt delay = %v, want 0", got)
	}
	if got := tracker.Delay(20); got != 5*time.Minute {
		t.Errorf("sustained failures delay = %v, want 5m", got)
	}
}
