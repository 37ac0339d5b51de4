package channel

import (
	"testing"
	"time"
)

func TestReconnectPolicyDelays(t *testing.T) {
	policy := DefaultReconnectPolicy()

	delay := policy.NextDelay(1)
	if delay != 1*time.Second {
		t.Errorf("expected 1s delay, got %v", delay)
	}

	delay = policy.NextDelay(2)
	if delay != 2*time.Second {
		t.Errorf("expected 2s delay, got %v", delay)
	}

	delay = policy.NextDelay(4)
	if delay != 8*time.Second {
		t.Errorf("expected 8s delay, got %v", delay)
	}
}

func TestReconnectPolicyExhausted(t *testing.T) {
	policy := DefaultReconnectPolicy()

	if policy.Exhausted(5) {
		t.Error("attempt 5 is within the budget")
	}
	if !policy.Exhausted(6) {
		t.Error("attempt 6 must be exhausted")
	}
}

func TestReconnectPolicyMaxDelayCap(t *testing.T) {
	policy := &ReconnectPolicy{
		MaxAttempts:  10,
		InitialDelay: 1 * time.Second,
		Multiplier:   10.0,
		MaxDelay:     30 * time.Second,
	}

	delay := policy.NextDelay(5)
	if delay > policy.MaxDelay {
		t.Errorf("delay %v exceeds max delay %v", delay, policy.MaxDelay)
	}
}
