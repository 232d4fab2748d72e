// Package backoff computes capped exponential retry delays.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy describes one retry schedule.
type Policy struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
	// Jitter scales each delay after the first by a factor in [0.5, 1.5).
	Jitter bool
}

// Accept mirrors net/http.Server: 5ms doubling up to 1s.
var Accept = Policy{Initial: 5 * time.Millisecond, Multiplier: 2, Max: time.Second}

// Dial is the client reconnect schedule used by ingestctl send.
var Dial = Policy{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 2 * time.Second, Jitter: true}

// Delay returns the wait before attempt n (1-based).
func (p Policy) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || p.Initial <= 0 {
		return max(p.Initial, 0)
	}
	mult := p.Multiplier
	if mult < 1.0 {
		mult = 1.0
	}
	delay := float64(p.Initial) * math.Pow(mult, float64(attempt-1))
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}
	if p.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
