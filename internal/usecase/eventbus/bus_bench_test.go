package eventbus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"memlog/internal/domain"
	"memlog/internal/infra/logger"
)

func writeEvent() domain.Event {
	return domain.Event{
		Type:      domain.EventWrite,
		Timestamp: time.Now(),
		Entry:     &domain.MemoryEntry{ID: "bench", Content: "bench", Source: "com.example.bench"},
	}
}

// The common case: a store nobody listens to.
func BenchmarkPublishNoListeners(b *testing.B) {
	bus := New(logger.Discard())
	ctx := context.Background()
	ev := writeEvent()

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, ev)
	}
}

// A CLI-like setup: one audit listener on everything plus a few typed ones
// that do not match.
func BenchmarkPublishAuditAndTyped(b *testing.B) {
	bus := New(logger.Discard())
	ctx := context.Background()
	ev := writeEvent()

	var seen atomic.Int64
	bus.SubscribeAll(func(context.Context, domain.Event) { seen.Add(1) })
	for range 4 {
		bus.Subscribe(domain.EventDelete, func(context.Context, domain.Event) {})
		bus.Subscribe(domain.EventClear, func(context.Context, domain.Event) {})
	}

	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(ctx, ev)
	}
	if seen.Load() == 0 {
		b.Fatal("audit listener never ran")
	}
}

// Several goroutines sharing one Store publish at once.
func BenchmarkPublishParallel(b *testing.B) {
	bus := New(logger.Discard())
	bus.SubscribeAll(func(context.Context, domain.Event) {})
	ev := writeEvent()

	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			bus.Publish(ctx, ev)
		}
	})
}

func BenchmarkSubscribeUnsubscribe(b *testing.B) {
	bus := New(logger.Discard())
	handler := func(context.Context, domain.Event) {}

	b.ReportAllocs()
	for b.Loop() {
		bus.Subscribe(domain.EventWrite, handler)()
	}
}
