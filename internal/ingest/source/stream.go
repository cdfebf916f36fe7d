package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/DjordjeVuckovic/retail-ingest/internal/domain"
)

// producer reads records from an input and hands each to emit. Malformed
// records are reported through skip and left out.
type producer func(ctx context.Context, emit func(domain.RawRecord) error, skip func(reason string, args ...any)) error

// Stream is a lazy, single-pass sequence of record batches fed by a
// producer goroutine through a bounded channel.
type Stream struct {
	name     string
	batches  chan []domain.RawRecord
	cancel   context.CancelFunc
	done     chan struct{}
	closer   io.Closer
	estimate int64

	yielded atomic.Int64
	skipped atomic.Int64

	mu  sync.Mutex
	err error

	closeOnce sync.Once
	closeErr  error
}

func newStream(ctx context.Context, name string, opts Options, produce producer, closer io.Closer, estimate int64) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		name:     name,
		batches:  make(chan []domain.RawRecord, opts.BufferedChunks),
		cancel:   cancel,
		done:     make(chan struct{}),
		closer:   closer,
		estimate: estimate,
	}
	go s.run(ctx, opts, produce)
	return s
}

func (s *Stream) run(ctx context.Context, opts Options, produce producer) {
	defer close(s.done)
	defer close(s.batches)

	chunker := NewChunker(opts.ChunkSize)
	push := func(batch []domain.RawRecord) error {
		select {
		case s.batches <- batch:
			s.yielded.Add(int64(len(batch)))
		case <-ctx.Done():
			return ctx.Err()
		}
		if opts.Guard != nil {
			return opts.Guard.Wait(ctx)
		}
		return nil
	}
	emit := func(r domain.RawRecord) error {
		if batch, ok := chunker.Add(r); ok {
			return push(batch)
		}
		return nil
	}
	skip := func(reason string, args ...any) {
		s.skipped.Add(1)
		slog.Warn(reason, append([]any{"source", s.name}, args...)...)
	}

	err := produce(ctx, emit, skip)
	if err == nil {
		if batch, ok := chunker.Flush(); ok {
			err = push(batch)
		}
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		slog.Error("Source stream failed", "source", s.name, "yielded", s.yielded.Load(), "error", err)
		return
	}
	slog.Debug("Source stream finished", "source", s.name, "yielded", s.yielded.Load(), "skipped", s.skipped.Load())
}

// Next returns the next batch, io.EOF once the input is exhausted, or the
// error that stopped the producer.
func (s *Stream) Next(ctx context.Context) ([]domain.RawRecord, error) {
	select {
	case batch, ok := <-s.batches:
		if ok {
			return batch, nil
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the producer and releases the underlying input.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if s.closer != nil {
			s.closeErr = s.closer.Close()
		}
	})
	return s.closeErr
}

// EstimatedTotal is the up-front record estimate, 0 when unknown.
func (s *Stream) EstimatedTotal() int64 { return s.estimate }

// Yielded counts records handed to the consumer side of the channel.
func (s *Stream) Yielded() int64 { return s.yielded.Load() }

func (s *Stream) Skipped() int64 { return s.skipped.Load() }
