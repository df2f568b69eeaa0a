package watch

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hupe1980/fantoche/internal/propagate"
)

// Coalescer collapses rapid events on the same path into one. An event is
// forwarded once its path has been quiet for the configured window; the
// kind of the last event wins.
type Coalescer struct {
	window time.Duration
	emit   func(propagate.Event)

	mu       sync.Mutex
	pending  map[string]*pendingEvent
	stopped  bool
	inflight sync.WaitGroup
}

type pendingEvent struct {
	event propagate.Event
	timer *time.Timer
}

// NewCoalescer creates a coalescer that forwards settled events to emit.
func NewCoalescer(window time.Duration, emit func(propagate.Event)) *Coalescer {
	return &Coalescer{
		window:  window,
		emit:    emit,
		pending: make(map[string]*pendingEvent),
	}
}

// Trigger records ev and restarts the quiet period for its path.
func (c *Coalescer) Trigger(ev propagate.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	if prev, ok := c.pending[ev.Path]; ok && prev.timer.Stop() {
		c.inflight.Done()
	}

	p := &pendingEvent{event: ev}

	c.inflight.Add(1)
	p.timer = time.AfterFunc(c.window, func() { c.fire(p) })
	c.pending[ev.Path] = p
}

// Pending returns the number of paths waiting for their quiet period.
func (c *Coalescer) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

func (c *Coalescer) fire(p *pendingEvent) {
	defer c.inflight.Done()

	c.mu.Lock()

	// Superseded by a later Trigger, or dropped by Stop.
	if c.stopped || c.pending[p.event.Path] != p {
		c.mu.Unlock()
		return
	}

	delete(c.pending, p.event.Path)
	c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			slog.Error("coalescer callback panicked", slog.Any("error", r))
		}
	}()

	c.emit(p.event)
}

// Stop drops pending events and waits for in-flight callbacks to return.
func (c *Coalescer) Stop() {
	c.mu.Lock()

	if c.stopped {
		c.mu.Unlock()
		return
	}

	c.stopped = true

	for path, p := range c.pending {
		if p.timer.Stop() {
			c.inflight.Done()
		}

		delete(c.pending, path)
	}

	c.mu.Unlock()

	c.inflight.Wait()
}
