package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls how a Dispatcher buffers and delivers events.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit drop and count events on a full buffer instead
	// of waiting for room.
	DropIfFull bool
	// SinkTimeout bounds each Sink.Emit call. Zero selects 2s.
	SinkTimeout time.Duration
	Logger      *slog.Logger
}

const defaultSinkTimeout = 2 * time.Second

// Dispatcher hands audit events to a sink on a single background goroutine,
// so security paths never wait on audit I/O. A nil Dispatcher is valid and
// discards everything.
type Dispatcher struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	// mu guards closed and the send side of queue; Close holds it
	// exclusively while closing the channel.
	mu     sync.RWMutex
	closed bool
	queue  chan Event

	finished  chan struct{}
	dropped   atomic.Uint64
	delivered atomic.Uint64
}

// NewDispatcher starts delivery. It returns nil when cfg is disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		cfg:      cfg,
		sink:     sink,
		log:      logger.With("component", "audit"),
		queue:    make(chan Event, cfg.BufferSize),
		finished: make(chan struct{}),
	}
	go d.deliver()
	return d
}

// deliver runs until Close closes the queue and every buffered event has
// reached the sink.
func (d *Dispatcher) deliver() {
	defer close(d.finished)
	for event := range d.queue {
		d.emitOne(event)
	}
}

func (d *Dispatcher) emitOne(event Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error("audit sink panicked", "event_type", event.EventType, "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SinkTimeout)
	defer cancel()
	d.sink.Emit(ctx, event)
	d.delivered.Add(1)
}

// Emit queues event. It never blocks when DropIfFull is set; otherwise it
// waits for buffer room or for ctx to end. Events emitted after Close are
// discarded.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops intake, then waits until the buffered events are delivered.
// It is idempotent.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.finished
}

// Dropped counts events lost to a full buffer or an expired Emit context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Delivered counts events handed to the sink.
func (d *Dispatcher) Delivered() uint64 {
	if d == nil {
		return 0
	}
	return d.delivered.Load()
}
