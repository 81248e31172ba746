// ABOUTME: Ordered in-process event bus with per-kind listener registration
// ABOUTME: Dispatches on one goroutine and isolates listener errors and panics

package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Listener handles one event. A returned error is logged and does not stop
// delivery to the remaining listeners.
type Listener func(Event) error

// anyKind registers a listener for every kind.
const anyKind Kind = 0

type listenerEntry struct {
	id   string
	kind Kind
	fn   Listener
}

// flushMarker is queued by Flush; the dispatcher closes done when it reaches it.
type flushMarker struct {
	done chan struct{}
}

func (flushMarker) Kind() Kind { return anyKind }

// Bus delivers events to listeners in emit order on a single dispatcher
// goroutine. Emit never blocks, so the session loop can emit while listeners
// call back into the session.
type Bus struct {
	mu        sync.Mutex
	listeners []listenerEntry
	queue     []Event
	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closed    bool
	logger    *slog.Logger
}

// NewBus creates a bus and starts its dispatcher. Pass nil logger for default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.With("component", "event_bus"),
	}
	go b.dispatch()
	return b
}

// On registers fn for events of the given kind. Listeners for a kind run in
// registration order. The returned ID is used with Off.
func (b *Bus) On(kind Kind, fn Listener) string {
	return b.register(kind, fn)
}

// OnAny registers fn for every event kind.
func (b *Bus) OnAny(fn Listener) string {
	return b.register(anyKind, fn)
}

func (b *Bus) register(kind Kind, fn Listener) string {
	id := uuid.New().String()

	b.mu.Lock()
	b.listeners = append(b.listeners, listenerEntry{id: id, kind: kind, fn: fn})
	b.mu.Unlock()

	return id
}

// Off removes the listener registered under id for kind. It reports whether
// a listener was removed.
func (b *Bus) Off(kind Kind, id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.id == id && l.kind == kind {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Emit queues ev for delivery. Events emitted after Close are dropped.
func (b *Bus) Emit(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Debug("dropped event on closed bus", "event", ev.Kind().String())
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// Flush blocks until every event emitted before the call has been delivered.
func (b *Bus) Flush() {
	marker := flushMarker{done: make(chan struct{})}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, marker)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}

	select {
	case <-marker.done:
	case <-b.stopped:
	}
}

// Close delivers events already queued and stops the dispatcher. It is safe
// to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.stopped
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	<-b.stopped
}

func (b *Bus) dispatch() {
	defer close(b.stopped)

	for {
		b.mu.Lock()
		pending := b.queue
		b.queue = nil
		b.mu.Unlock()

		for _, ev := range pending {
			b.deliver(ev)
		}

		if len(pending) > 0 {
			continue
		}

		select {
		case <-b.wake:
		case <-b.done:
			b.mu.Lock()
			rest := b.queue
			b.queue = nil
			b.mu.Unlock()
			for _, ev := range rest {
				b.deliver(ev)
			}
			return
		}
	}
}

func (b *Bus) deliver(ev Event) {
	if marker, ok := ev.(flushMarker); ok {
		close(marker.done)
		return
	}

	kind := ev.Kind()

	b.mu.Lock()
	targets := make([]listenerEntry, 0, len(b.listeners))
	for _, l := range b.listeners {
		if l.kind == kind || l.kind == anyKind {
			targets = append(targets, l)
		}
	}
	b.mu.Unlock()

	for _, l := range targets {
		if err := b.invoke(l.fn, ev); err != nil {
			b.logger.Warn("event listener failed",
				"event", kind.String(),
				"listener_id", l.id,
				"error", err)
		}
	}
}

// invoke runs fn, converting a panic into an error.
func (b *Bus) invoke(fn Listener, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("listener panic: %v", r)
		}
	}()
	return fn(ev)
}
