package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// EventType represents the type of event
type EventType string

const (
	EventTypeLightNew        EventType = "light_new"
	EventTypeLightOnline     EventType = "light_online"
	EventTypeLightOffline    EventType = "light_offline"
	EventTypeLightState      EventType = "light_state"
	EventTypeCommandResolved EventType = "command_resolved"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Data      map[string]interface{}
	Timestamp time.Time // set by Publish when zero
}

// Handler is a function that handles events
type Handler func(Event)

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus fans light and command events out to subscribers on a bounded worker pool
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	closed   bool

	workQueue chan work
	wg        sync.WaitGroup

	// closing wakes publishers before the write lock is taken
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		handlers:  make(map[EventType][]Handler),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("event_type", string(w.event.Type)).
						Int("worker", id).
						Msg("Event handler panicked")
				}
			}()
			w.handler(w.event)
		}()
	}
}

// Subscribe registers a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers.
// Non-blocking: if the work queue is full or the bus is closed, events are dropped.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		log.Debug().Str("event_type", string(event.Type)).Msg("Event bus closed, dropping event")
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for _, handler := range b.handlers[event.Type] {
		select {
		case <-b.closing:
			log.Warn().Str("event_type", string(event.Type)).Msg("Event bus closing, dropping event")
			return
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().
				Str("event_type", string(event.Type)).
				Msg("Event bus queue full, dropping event")
		}
	}
}

// Close stops accepting events and waits for queued ones to finish.
// The work queue is closed under the write lock so no Publish can race it.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		close(b.closing)

		b.mu.Lock()
		b.closed = true
		close(b.workQueue)
		b.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[EventType][]Handler)
}
