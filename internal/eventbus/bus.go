// Package eventbus routes state-change notifications (connection state,
// schedule decisions, activation requests) to observers through a
// bounded worker pool, so a slow observer can never stall the
// connection loop or the scheduler tick.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventType represents the type of event.
type EventType string

const (
	// EventConnectionState carries a supervisor state transition.
	EventConnectionState EventType = "connection_state"
	// EventScheduleDecision carries the scheduler's resolved lamp state.
	EventScheduleDecision EventType = "schedule_decision"
	// EventActivate is a "bring to front" request from a second instance.
	EventActivate EventType = "activate"
)

// Default pool configuration.
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 64
)

// Event is one notification. ID is unique per publication.
type Event struct {
	ID   string
	Type EventType
	Time time.Time
	Data map[string]any
}

// Handler is a function that handles events.
type Handler func(Event)

type work struct {
	event   Event
	handler Handler
}

// Bus provides event routing with a bounded worker pool.
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler

	workQueue chan work
	wg        sync.WaitGroup

	// closing marks shutdown; closeMu orders in-flight publishes
	// against the queue close, so a late publish is dropped instead of
	// sending on a closed channel.
	closing   chan struct{}
	closeMu   sync.RWMutex
	closeOnce sync.Once
}

// New creates an event bus with default settings.
func New() *Bus {
	return NewWithConfig(DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates an event bus with a custom worker count and
// queue size.
func NewWithConfig(workerCount, queueSize int) *Bus {
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

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish sends an event to all subscribed handlers. Non-blocking: if
// the queue is full or the bus is closing, the event is dropped.
func (b *Bus) Publish(eventType EventType, data map[string]any) {
	b.mu.RLock()
	handlers := b.handlers[eventType]
	b.mu.RUnlock()

	event := Event{
		ID:   uuid.NewString(),
		Type: eventType,
		Time: time.Now(),
		Data: data,
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	select {
	case <-b.closing:
		log.Warn().Str("event_type", string(eventType)).Msg("Event bus closed, dropping event")
		return
	default:
	}

	for _, handler := range handlers {
		select {
		case b.workQueue <- work{event: event, handler: handler}:
		default:
			log.Warn().Str("event_type", string(eventType)).Msg("Event bus queue full, dropping event")
		}
	}
}

// Close shuts down the worker pool. First signals publishers to stop,
// then closes the work queue and waits for in-flight handlers up to the
// context deadline.
func (b *Bus) Close(ctx context.Context) {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		close(b.closing)
		close(b.workQueue)
		b.closeMu.Unlock()

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
	})
}
