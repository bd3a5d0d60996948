package domain

import (
	"context"
	"time"
)

// EventType identifies the kind of change published to listeners.
type EventType string

const (
	EventWrite  EventType = "write"
	EventDelete EventType = "delete"
	EventClear  EventType = "clear"
)

// Event is the envelope delivered to change listeners.
type Event struct {
	ID        string       `json:"id"` // ULID, sortable by emission time
	Type      EventType    `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	Entry     *MemoryEntry `json:"entry,omitempty"`    // EventWrite
	Revision  bool         `json:"revision,omitempty"` // EventWrite produced by Update
	EntryID   string       `json:"entry_id,omitempty"` // EventDelete
	Removed   int          `json:"removed,omitempty"`  // EventDelete: lines removed
}

// EventHandler is a callback invoked when an event is published.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for change events.
type EventBus interface {
	// Publish delivers an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close prevents new publishes.
	Close()
}
