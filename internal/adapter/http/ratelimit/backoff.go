package ratelimit

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes the delay applied to the nth consecutive failure.
type Backoff struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool
}

func NewBackoff(min, max time.Duration, factor float64) *Backoff {
	return &Backoff{
		Min:    min,
		Max:    max,
		Factor: factor,
		Jitter: true,
	}
}

func (b *Backoff) Duration(failures int) time.Duration {
	if failures <= 1 {
		return b.jitter(float64(b.Min))
	}

	d := float64(b.Min) * math.Pow(b.Factor, float64(failures-1))
	if d > float64(b.Max) {
		d = float64(b.Max)
	}
	return b.jitter(d)
}

// Wait sleeps for Duration(failures) or until ctx is done.
func (b *Backoff) Wait(ctx context.Context, failures int) error {
	timer := time.NewTimer(b.Duration(failures))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Backoff) jitter(d float64) time.Duration {
	if b.Jitter {
		d *= 0.5 + rand.Float64()*0.5
	}
	return time.Duration(d)
}
