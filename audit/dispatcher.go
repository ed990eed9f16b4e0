package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
)

// Config sizes the queue between the engine and the sink.
type Config struct {
	// Enabled false makes NewDispatcher return nil, which discards events.
	Enabled bool
	// BufferSize is the queue capacity. Values below one become one.
	BufferSize int
	// DropIfFull discards events when the queue is full instead of making the
	// caller wait.
	DropIfFull bool
}

// Dispatcher decouples trust operations from audit delivery. Events are stamped
// with a ULID and a UTC timestamp when the caller left them empty, queued, and
// handed to the sink one at a time by a single worker, so a sink sees events
// in queue order and never concurrently.
type Dispatcher struct {
	sink       Sink
	queue      chan Event
	dropOnFull bool
	now        func() time.Time

	quit     chan struct{}
	stopped  sync.WaitGroup
	shutting atomic.Bool
	stopOnce sync.Once

	dropped atomic.Uint64
}

// NewDispatcher starts the delivery worker. A nil sink discards events.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink:       sink,
		queue:      make(chan Event, max(cfg.BufferSize, 1)),
		dropOnFull: cfg.DropIfFull,
		now:        time.Now,
		quit:       make(chan struct{}),
	}
	d.stopped.Add(1)
	go d.deliver()
	return d
}

func (d *Dispatcher) deliver() {
	defer d.stopped.Done()
	for {
		select {
		case ev := <-d.queue:
			d.send(ev)
		case <-d.quit:
			d.flush()
			return
		}
	}
}

// flush hands every event still queued to the sink.
func (d *Dispatcher) flush() {
	for {
		select {
		case ev := <-d.queue:
			d.send(ev)
		default:
			return
		}
	}
}

// send keeps the worker alive when a sink panics; the event is counted as dropped.
func (d *Dispatcher) send(ev Event) {
	defer func() {
		if recover() != nil {
			d.dropped.Add(1)
		}
	}()
	d.sink.Emit(context.Background(), ev)
}

func (d *Dispatcher) stamp(ev Event) Event {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}
	return ev
}

// Emit queues ev. When the queue is full it either drops ev or waits until
// there is room, ctx ends or the dispatcher closes. Events that never reach the
// queue count towards Dropped. Emit on a nil or closed Dispatcher is a no-op.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.shutting.Load() {
		return
	}
	ev = d.stamp(ev)

	select {
	case d.queue <- ev:
		return
	default:
	}
	if d.dropOnFull {
		d.dropped.Add(1)
		return
	}

	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
		d.dropped.Add(1)
	case <-d.quit:
	}
}

// Close stops accepting events, delivers what is queued and waits for the
// worker. Later calls return immediately.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.shutting.Store(true)
		close(d.quit)
		d.stopped.Wait()
	})
}

// Dropped returns how many events never reached the sink.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
