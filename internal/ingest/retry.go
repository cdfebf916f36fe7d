package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Sleeper waits for d or until ctx is done.
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

// newRetryBackOff yields base, 2*base, 4*base... without jitter, capped at
// maxDelay.
func newRetryBackOff(base, maxDelay time.Duration) backoff.BackOff {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxRetryDelay
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}
