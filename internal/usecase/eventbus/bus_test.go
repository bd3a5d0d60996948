package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"memlog/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got int
	bus.Subscribe(domain.EventWrite, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventWrite {
			got++
		}
	})

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	bus.Publish(context.Background(), newEvent(domain.EventDelete))
	// Delivery is synchronous: no drain needed.
	if got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got int
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got++
	})

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	bus.Publish(context.Background(), newEvent(domain.EventClear))

	if got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
}

func TestRegistrationOrder(t *testing.T) {
	bus := newTestBus()

	var order []string
	bus.SubscribeAll(func(context.Context, domain.Event) { order = append(order, "all-1") })
	bus.Subscribe(domain.EventWrite, func(context.Context, domain.Event) { order = append(order, "write") })
	bus.SubscribeAll(func(context.Context, domain.Event) { order = append(order, "all-2") })

	bus.Publish(context.Background(), newEvent(domain.EventWrite))

	want := []string{"all-1", "write", "all-2"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got int
	unsub := bus.Subscribe(domain.EventWrite, func(_ context.Context, _ domain.Event) {
		got++
	})

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	if got != 1 {
		t.Fatalf("expected 1 before unsub, got %d", got)
	}

	unsub()
	unsub() // idempotent
	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	if got != 1 {
		t.Fatalf("expected still 1 after unsub, got %d", got)
	}
	if bus.Len() != 0 {
		t.Fatalf("expected no subscriptions, got %d", bus.Len())
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	bus := newTestBus()

	var second int
	var unsub func()
	unsub = bus.SubscribeAll(func(context.Context, domain.Event) { unsub() })
	bus.SubscribeAll(func(context.Context, domain.Event) { second++ })

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	bus.Publish(context.Background(), newEvent(domain.EventWrite))

	if second != 2 {
		t.Fatalf("expected 2 deliveries to second handler, got %d", second)
	}
	if bus.Len() != 1 {
		t.Fatalf("expected 1 subscription left, got %d", bus.Len())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventWrite, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventWrite))
		}()
	}
	wg.Wait()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got int
	// First subscriber panics
	bus.Subscribe(domain.EventWrite, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	// Second subscriber should still fire
	bus.Subscribe(domain.EventWrite, func(_ context.Context, _ domain.Event) {
		got++
	})

	bus.Publish(context.Background(), newEvent(domain.EventWrite))

	if got != 1 {
		t.Fatalf("expected 1 (second handler), got %d", got)
	}
}

func TestCloseRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got int
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got++
	})

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	bus.Close()
	bus.Close()

	bus.Publish(context.Background(), newEvent(domain.EventWrite))
	if got != 1 {
		t.Fatalf("expected no delivery after close, got %d", got)
	}
}
