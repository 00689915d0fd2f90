package orchestrator

import (
	"testing"
	"time"
)

func TestDelaySchedule(t *testing.T) {
	r := DefaultRetryPolicy()
	cases := map[int]time.Duration{
		1: 0,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 4 * time.Second,
	}
	for attempt, want := range cases {
		if got := r.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestShouldRetry(t *testing.T) {
	cases := map[int]bool{
		0:   false,
		124: false,
		125: false,
		1:   true,
		2:   true,
		137: true,
	}
	for code, want := range cases {
		if got := ShouldRetry(code); got != want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", code, got, want)
		}
	}
}

func TestDefaultRetryPolicyValues(t *testing.T) {
	r := DefaultRetryPolicy()
	if r.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", r.MaxAttempts)
	}
	if r.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", r.BaseDelay)
	}
	if r.MaxDelay != 4*time.Second {
		t.Errorf("MaxDelay = %v, want 4s", r.MaxDelay)
	}
}
