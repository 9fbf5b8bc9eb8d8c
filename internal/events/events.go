// Package events provides a publish-subscribe event bus for buffer
// lifecycle notifications within the circbuf daemon.
package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
)

// EventType identifies a specific event category.
type EventType string

// Buffer lifecycle events.
const (
	BufferCreated   EventType = "BUFFER_CREATED"
	BufferReplaced  EventType = "BUFFER_REPLACED"
	BufferDestroyed EventType = "BUFFER_DESTROYED"
	BufferReset     EventType = "BUFFER_RESET"
)

// Buffer data events.
const (
	BufferWritten EventType = "BUFFER_WRITTEN"
	BufferFull    EventType = "BUFFER_FULL"
)

// Daemon state events.
const (
	DaemonStateRunning  EventType = "DAEMON_STATE_RUNNING"
	DaemonStateStopping EventType = "DAEMON_STATE_STOPPING"
	ConfigReloaded      EventType = "CONFIG_RELOADED"
)

// AllTypes lists every event type the daemon publishes.
var AllTypes = []EventType{
	BufferCreated, BufferReplaced, BufferDestroyed, BufferReset,
	BufferWritten, BufferFull,
	DaemonStateRunning, DaemonStateStopping, ConfigReloaded,
}

// Event carries data from a published event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]string
	Seq       uint64 // assigned by Publish, unique per bus
}

// HandlerFunc processes an event.
type HandlerFunc func(Event)

// subscription tracks a single subscriber.
type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus is the central event dispatcher. It is safe for concurrent use.
// When no subscribers exist and history is disabled, Publish is a no-op
// with zero allocations.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]subscription
	nextID  uint64
	logger  *slog.Logger
	history *History
	seq     atomic.Uint64
}

// NewBus creates a new event bus without history.
func NewBus(logger *slog.Logger) *Bus {
	return NewBusWithHistory(logger, 0)
}

// NewBusWithHistory creates a bus that retains the last size events.
func NewBusWithHistory(logger *slog.Logger, size int) *Bus {
	b := &Bus{
		subs:   make(map[EventType][]subscription),
		logger: logger,
	}
	if size > 0 {
		b.history = NewHistory(size)
	}
	return b
}

// Subscribe registers a handler for the given event type.
// Returns a subscription ID that can be used to unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler HandlerFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{
		id:      id,
		handler: handler,
	})
	return id
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, s := range subs {
			if s.id == id {
				b.subs[eventType] = append(subs[:i], subs[i+1:]...)
				if len(b.subs[eventType]) == 0 {
					delete(b.subs, eventType)
				}
				return
			}
		}
	}
}

// Publish dispatches an event to all subscribers of the event type.
// Handlers are called synchronously in registration order.
// A panicking handler is recovered and logged; remaining handlers
// still execute.
func (b *Bus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Seq = b.seq.Add(1)
	if b.history != nil {
		b.history.Add(event)
	}

	b.mu.RLock()
	subs := b.subs[event.Type]
	if len(subs) == 0 {
		b.mu.RUnlock()
		return
	}
	// Copy the slice so we can release the lock before calling handlers.
	handlers := make([]subscription, len(subs))
	copy(handlers, subs)
	b.mu.RUnlock()

	for _, s := range handlers {
		b.safeCall(s.handler, event)
	}
}

func (b *Bus) safeCall(handler HandlerFunc, event Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}

// Recent returns up to n of the most recent events, oldest first.
// It returns nil when the bus keeps no history.
func (b *Bus) Recent(n int) []Event {
	if b.history == nil {
		return nil
	}
	return b.history.Last(n)
}

// History is a bounded, concurrency-safe log of the latest events.
type History struct {
	mu   sync.Mutex
	q    *queue.Queue
	size int
}

// NewHistory creates a history retaining at most size events.
func NewHistory(size int) *History {
	return &History{q: queue.New(), size: size}
}

// Add appends an event, evicting the oldest once full.
func (h *History) Add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.q.Add(e)
	for h.q.Length() > h.size {
		h.q.Remove()
	}
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.q.Length()
}

// Last returns up to n of the newest events, oldest first.
func (h *History) Last(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := h.q.Length()
	if n > total {
		n = total
	}
	if n <= 0 {
		return nil
	}
	out := make([]Event, n)
	for i := 0; i < n; i++ {
		out[i] = h.q.Get(total - n + i).(Event)
	}
	return out
}
