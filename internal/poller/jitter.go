package poller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// newJitter returns a backoff that never grows and never stops: every
// NextBackOff is drawn uniformly from [base - spread/2, base + spread/2].
// A lower end below zero is raised to zero; the upper end always stays.
func newJitter(base, spread time.Duration, clk backoff.Clock) *backoff.ExponentialBackOff {
	lo := max(base-spread/2, 0)
	hi := base + spread/2
	center := lo + (hi-lo)/2

	factor := 0.0
	if center > 0 {
		factor = float64(hi-center) / float64(center)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     center,
		RandomizationFactor: factor,
		Multiplier:          1,
		MaxInterval:         center,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}
	b.Reset()
	return b
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
