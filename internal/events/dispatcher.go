package events

import (
	"context"
	"log/slog"
	"sync"
)

const defaultQueueSize = 1024

// Dispatcher delivers events to downstream sinks on a single goroutine so
// publishers never wait on delivery. Events are delivered in publish order.
// A full queue drops the event; delivery errors are logged and swallowed.
type Dispatcher struct {
	sinks []Sink
	queue chan Event

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

type DispatcherOption func(*Dispatcher)

func WithQueueSize(size int) DispatcherOption {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queue = make(chan Event, size)
		}
	}
}

func NewDispatcher(sinks []Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sinks: sinks,
		queue: make(chan Event, defaultQueueSize),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	go d.loop()
	return d
}

func (d *Dispatcher) Publish(_ context.Context, e Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.Warn("Event dispatcher closed, dropping event", "type", e.Type())
		return nil
	}

	select {
	case d.queue <- e:
	default:
		slog.Warn("Event queue full, dropping event", "type", e.Type(), "aggregate_id", e.AggregateID())
	}
	return nil
}

// Close stops accepting events and waits until queued ones are delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)

	ctx := context.Background()
	for e := range d.queue {
		for _, s := range d.sinks {
			if err := s.Publish(ctx, e); err != nil {
				slog.Error("Event delivery failed", "type", e.Type(), "error", err)
			}
		}
	}
}
