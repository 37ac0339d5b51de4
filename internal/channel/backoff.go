package channel

import (
	"math"
	"time"
)

// ReconnectPolicy controls how a dropped stream is retried with exponential
// backoff. Once MaxAttempts consecutive failures accumulate the channel goes
// terminal; a successful connection resets the count.
type ReconnectPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultReconnectPolicy returns a ReconnectPolicy with sensible defaults:
// 5 attempts, 1s initial delay, 2x multiplier, 30s max delay.
func DefaultReconnectPolicy() *ReconnectPolicy {
	return &ReconnectPolicy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// Exhausted reports whether the given attempt number (1-indexed) is past
// the policy's budget.
func (p *ReconnectPolicy) Exhausted(attempt int) bool {
	return attempt > p.MaxAttempts
}

// NextDelay returns the backoff delay for the given attempt number (1-indexed).
// The delay is InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *ReconnectPolicy) NextDelay(attempt int) time.Duration {
	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}
