package trigger

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher asynchronously forwards lifecycle events to a sink. Dispatch
// order is preserved per dispatcher; a nil dispatcher drops everything.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	idle   chan struct{}

	dropped atomic.Uint64
}

// NewDispatcher starts the relay goroutine. Returns nil when disabled;
// every method tolerates a nil receiver.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		ch:         make(chan Event, cfg.BufferSize),
		idle:       make(chan struct{}),
	}
	go d.relay()
	return d
}

func (d *Dispatcher) relay() {
	for event := range d.ch {
		d.sink.Emit(context.Background(), event)
	}
	close(d.idle)
}

// Emit queues an event. With DropIfFull set a full buffer increments the
// drop counter instead of blocking; otherwise Emit waits for buffer space
// or ctx cancellation.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.dropIfFull {
		select {
		case d.ch <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.ch <- event:
	case <-ctx.Done():
	}
}

// Close stops intake, delivers everything already queued and waits for the
// relay goroutine to exit. Safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.ch)
	d.mu.Unlock()
	<-d.idle
}

// Dropped reports how many events were discarded because the buffer was
// full at emit time.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
