package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	var got []Event
	bus.Subscribe(PaymentReceived, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})
	bus.Subscribe(PaymentReceived, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev)
	})

	bus.Publish(context.Background(), Event{
		Name:    PaymentReceived,
		Payload: map[string]any{"amount": "10"},
	})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 2)
	assert.Equal(t, "10", got[0].Payload["amount"])
	assert.False(t, got[0].Occurred.IsZero())
}

func TestBusIgnoresUnsubscribedEvents(t *testing.T) {
	bus := NewBus(zap.NewNop())
	delivered := false
	bus.Subscribe(ClearingDone, func(Event) { delivered = true })

	bus.Publish(context.Background(), Event{Name: PaymentReceived})
	bus.Drain()
	assert.False(t, delivered)
}

func TestBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())
	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(ClearingDone, func(Event) { panic("handler bug") })
	bus.Subscribe(ClearingDone, func(Event) {
		mu.Lock()
		defer mu.Unlock()
		delivered++
	})

	bus.Publish(context.Background(), Event{Name: ClearingDone})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, delivered)
}

func TestNopPublisher(t *testing.T) {
	// Must not block or panic.
	NopPublisher{}.Publish(context.Background(), Event{Name: PaymentReceived})
}
