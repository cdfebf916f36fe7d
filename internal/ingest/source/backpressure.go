package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

const (
	defaultGuardPause   = 500 * time.Millisecond
	defaultGuardMaxWait = 30 * time.Second
)

// MemorySampler reports the resident set size of the process in bytes.
type MemorySampler func(ctx context.Context) (uint64, error)

// MemoryGuard slows a producer down while process memory is above a
// ceiling. It is advisory: after MaxWait the producer carries on.
type MemoryGuard struct {
	ceiling uint64
	pause   time.Duration
	maxWait time.Duration
	sample  MemorySampler
	gc      func()

	active bool
}

type GuardOption func(*MemoryGuard)

func WithPause(d time.Duration) GuardOption {
	return func(g *MemoryGuard) {
		g.pause = d
	}
}

func WithMaxWait(d time.Duration) GuardOption {
	return func(g *MemoryGuard) {
		g.maxWait = d
	}
}

func WithSampler(s MemorySampler) GuardOption {
	return func(g *MemoryGuard) {
		g.sample = s
	}
}

func WithGC(gc func()) GuardOption {
	return func(g *MemoryGuard) {
		g.gc = gc
	}
}

// NewMemoryGuard returns a guard for ceilingMB megabytes of RSS, or nil
// when ceilingMB is not positive.
func NewMemoryGuard(ceilingMB int, opts ...GuardOption) *MemoryGuard {
	if ceilingMB <= 0 {
		return nil
	}
	g := &MemoryGuard{
		ceiling: uint64(ceilingMB) << 20,
		pause:   defaultGuardPause,
		maxWait: defaultGuardMaxWait,
		sample:  processRSS,
		gc:      runtime.GC,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Wait blocks while memory stays above the ceiling. It only returns an
// error when ctx is done.
func (g *MemoryGuard) Wait(ctx context.Context) error {
	if g == nil {
		return nil
	}

	var waited time.Duration
	for {
		rss, err := g.sample(ctx)
		if err != nil {
			slog.Debug("Memory sampling failed, skipping backpressure", "error", err)
			return nil
		}
		if rss <= g.ceiling {
			if g.active {
				slog.Info("Memory back under ceiling, resuming", "rss_mb", rss>>20, "ceiling_mb", g.ceiling>>20)
				g.active = false
			}
			return nil
		}

		if !g.active {
			slog.Warn("Memory ceiling exceeded, applying backpressure", "rss_mb", rss>>20, "ceiling_mb", g.ceiling>>20)
			g.active = true
		}
		g.gc()

		if waited >= g.maxWait {
			slog.Warn("Backpressure wait exhausted, continuing above ceiling", "rss_mb", rss>>20, "waited", waited)
			return nil
		}

		t := time.NewTimer(g.pause)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		waited += g.pause
	}
}

func processRSS(ctx context.Context) (uint64, error) {
	p, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, fmt.Errorf("lookup process: %w", err)
	}
	info, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory info: %w", err)
	}
	return info.RSS, nil
}
