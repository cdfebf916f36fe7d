package source

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequence(values ...uint64) MemorySampler {
	var i atomic.Int32
	return func(context.Context) (uint64, error) {
		n := int(i.Add(1)) - 1
		if n >= len(values) {
			return values[len(values)-1], nil
		}
		return values[n], nil
	}
}

func TestMemoryGuard_WaitsUntilUnderCeiling(t *testing.T) {
	var gcs atomic.Int32
	g := NewMemoryGuard(100,
		WithSampler(sequence(200<<20, 150<<20, 50<<20)),
		WithGC(func() { gcs.Add(1) }),
		WithPause(time.Millisecond),
	)

	require.NoError(t, g.Wait(t.Context()))
	assert.Equal(t, int32(2), gcs.Load())
}

func TestMemoryGuard_GivesUpAfterMaxWait(t *testing.T) {
	var gcs atomic.Int32
	g := NewMemoryGuard(1,
		WithSampler(sequence(1<<30)),
		WithGC(func() { gcs.Add(1) }),
		WithPause(time.Millisecond),
		WithMaxWait(3*time.Millisecond),
	)

	require.NoError(t, g.Wait(t.Context()))
	assert.Equal(t, int32(4), gcs.Load())
}

func TestMemoryGuard_CancelledWhilePaused(t *testing.T) {
	g := NewMemoryGuard(1, WithSampler(sequence(1<<30)), WithGC(func() {}), WithPause(time.Hour))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	assert.ErrorIs(t, g.Wait(ctx), context.Canceled)
}

func TestMemoryGuard_SamplingErrorIsIgnored(t *testing.T) {
	g := NewMemoryGuard(1, WithSampler(func(context.Context) (uint64, error) {
		return 0, errors.New("procfs unavailable")
	}))

	assert.NoError(t, g.Wait(t.Context()))
}

func TestMemoryGuard_DisabledWithoutCeiling(t *testing.T) {
	g := NewMemoryGuard(0)
	assert.Nil(t, g)
	assert.NoError(t, g.Wait(t.Context()))
}

func TestMemoryGuard_RealProcess(t *testing.T) {
	g := NewMemoryGuard(1 << 20)
	assert.NoError(t, g.Wait(t.Context()))
}
