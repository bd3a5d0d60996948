package audit

import (
	"context"
	"log/slog"
	"strconv"

	"memlog/internal/domain"
)

// Listener turns store change events into audit events for l. Audit
// failures are logged and never reach the operation that caused them.
func Listener(l domain.AuditLogger, actor string, logger *slog.Logger) domain.EventHandler {
	return func(ctx context.Context, ev domain.Event) {
		event, ok := FromEvent(ev, actor)
		if !ok {
			return
		}
		if err := l.Log(ctx, event); err != nil {
			logger.Warn("audit write failed", "event", ev.Type, "error", err)
		}
	}
}

// FromEvent maps a change event to its audit record. It reports false for
// event types that are not audited.
func FromEvent(ev domain.Event, actor string) (domain.AuditEvent, bool) {
	out := domain.AuditEvent{
		Timestamp: ev.Timestamp.UTC(),
		Actor:     actor,
		Outcome:   "success",
		Detail:    map[string]string{"event_id": ev.ID},
	}
	switch ev.Type {
	case domain.EventWrite:
		out.Type = domain.AuditMemoryStore
		if ev.Revision {
			out.Type = domain.AuditMemoryRevise
		}
		if ev.Entry != nil {
			out.Resource = ev.Entry.ID
			out.Detail["source"] = ev.Entry.Source
			if ev.Entry.Type != "" {
				out.Detail["type"] = ev.Entry.Type
			}
		}
	case domain.EventDelete:
		out.Type = domain.AuditMemoryDelete
		out.Resource = ev.EntryID
		out.Detail["lines_removed"] = strconv.Itoa(ev.Removed)
	case domain.EventClear:
		out.Type = domain.AuditMemoryClear
	default:
		return domain.AuditEvent{}, false
	}
	return out, true
}
