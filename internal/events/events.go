// Package events carries domain event publication. Engines publish
// after their transaction commits, best-effort: a slow or failing
// subscriber must never affect ledger state.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event names published by the core.
const (
	PaymentReceived = "payment.received"
	ClearingDone    = "clearing.done"
)

// Event is one domain event.
type Event struct {
	Name     string
	Occurred time.Time
	Payload  map[string]any
}

// Publisher delivers domain events to interested subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, Event) {}

// Handler consumes events from the in-process bus.
type Handler func(ev Event)

// Bus is an in-process asynchronous publisher. Each event is handed to
// every subscriber on a separate goroutine; delivery order between
// events is not guaranteed.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	wg       sync.WaitGroup
	log      *zap.Logger
}

// NewBus returns an empty bus.
func NewBus(log *zap.Logger) *Bus {
	return &Bus{handlers: make(map[string][]Handler), log: log}
}

// Subscribe registers a handler for one event name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], h)
}

// Publish implements Publisher.
func (b *Bus) Publish(_ context.Context, ev Event) {
	if ev.Occurred.IsZero() {
		ev.Occurred = time.Now().UTC()
	}
	b.mu.RLock()
	handlers := b.handlers[ev.Name]
	b.mu.RUnlock()
	for _, h := range handlers {
		h := h
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Warn("event handler panicked",
						zap.String("event", ev.Name),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

// Drain blocks until all in-flight deliveries finish.
func (b *Bus) Drain() {
	b.wg.Wait()
}
