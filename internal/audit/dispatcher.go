package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Config controls how the dispatcher queues account events.
//
// With DropIfFull a full queue discards the event and counts it, except for
// the event types listed in Critical: those wait for room like the blocking
// mode does, bounded by the caller's context. Account deletions, password
// resets and refresh reuse are the usual members, since they are the events
// an incident review cannot reconstruct from anything else.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Critical   []string
	Logger     *slog.Logger
}

// Dispatcher forwards account events to a Sink on one delivery goroutine.
type Dispatcher struct {
	sink       Sink
	logger     *slog.Logger
	dropIfFull bool
	critical   map[string]struct{}
	queue      chan Event
	stop       chan struct{}
	stopped    atomic.Bool
	stopOnce   sync.Once
	wg         sync.WaitGroup

	dropped  atomic.Uint64
	panicked atomic.Uint64

	mu       sync.Mutex
	dropKind map[string]uint64
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; every method is safe on a nil Dispatcher.
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
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	critical := make(map[string]struct{}, len(cfg.Critical))
	for _, t := range cfg.Critical {
		critical[t] = struct{}{}
	}

	d := &Dispatcher{
		sink:       sink,
		logger:     cfg.Logger,
		dropIfFull: cfg.DropIfFull,
		critical:   critical,
		queue:      make(chan Event, cfg.BufferSize),
		stop:       make(chan struct{}),
		dropKind:   make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.loop()

	return d
}

func (d *Dispatcher) loop() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only; the goroutine keeps serving the queue.
func (d *Dispatcher) deliver(event Event) {
	defer func() {
		if r := recover(); r != nil {
			d.panicked.Add(1)
			d.logger.Error("goAccount: audit sink panicked", "event_type", event.EventType, "panic", r)
		}
	}()
	d.sink.Emit(context.Background(), event)
}

// Emit queues event. Delivery always runs with a background context so a
// finished request cannot cancel its own audit trail; ctx only bounds the
// wait for queue room.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !d.isCritical(event.EventType) {
		select {
		case d.queue <- event:
		case <-d.stop:
		default:
			d.drop(event.EventType)
		}
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.stop:
	}
}

func (d *Dispatcher) isCritical(eventType string) bool {
	_, ok := d.critical[eventType]
	return ok
}

func (d *Dispatcher) drop(eventType string) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.dropKind[eventType]++
	d.mu.Unlock()
}

// Close drains queued events and stops the delivery goroutine.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.wg.Wait()
	})
}

// Dropped reports events that never reached the queue, either because it was
// full or because the caller's context ended while waiting.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByType breaks Dropped down by event type.
func (d *Dispatcher) DroppedByType() map[string]uint64 {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.dropKind))
	for k, v := range d.dropKind {
		out[k] = v
	}
	return out
}

// SinkPanics reports deliveries lost to a panicking sink.
func (d *Dispatcher) SinkPanics() uint64 {
	if d == nil {
		return 0
	}
	return d.panicked.Load()
}
