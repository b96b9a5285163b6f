// Package resilience provides the capped exponential backoff policy shared
// by the duplex reconnect loop and the reactive credential refresh path.
//
// The schedule is a contract, not an implementation detail: operators depend
// on the exact delays when diagnosing flapping connections, so the policy is
// exposed as a pure function of the attempt number.
package resilience

import (
	"context"
	"time"
)

// Policy describes a capped exponential backoff schedule.
type Policy struct {
	// Initial is the delay before retry attempt 0. Default: 1s.
	Initial time.Duration

	// Cap is the upper bound on any single delay. Default: 16s.
	Cap time.Duration

	// MaxAttempts is the retry budget before the caller gives up. Default: 5.
	MaxAttempts int
}

// Transport is the backoff policy for duplex transport failures: 1s, 2s, 4s,
// 8s, 16s, then stop.
var Transport = Policy{Initial: time.Second, Cap: 16 * time.Second, MaxAttempts: 5}

// withDefaults fills zero fields with the package defaults.
func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Cap <= 0 {
		p.Cap = 16 * time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	return p
}

// Delay returns the backoff delay before retry attempt n (0-indexed):
// min(Initial * 2^n, Cap).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 0 {
		attempt = 0
	}
	d := p.Initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Cap {
			return p.Cap
		}
	}
	if d > p.Cap {
		return p.Cap
	}
	return d
}

// Attempts returns the retry budget.
func (p Policy) Attempts() int {
	return p.withDefaults().MaxAttempts
}

// Wait blocks for the attempt's delay. It returns early with the context
// error when ctx is cancelled, or with [ErrStopped] when stop is closed, so
// every backoff sleep can be interrupted by shutdown.
func (p Policy) Wait(ctx context.Context, attempt int, stop <-chan struct{}) error {
	t := time.NewTimer(p.Delay(attempt))
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-stop:
		return ErrStopped
	}
}
