package memlog

import (
	"context"
	"encoding/json"
	"fmt"

	"memlog/internal/domain"
	"memlog/internal/infra/tracer"
)

// Sink receives a full export of the log.
type Sink interface {
	Export(ctx context.Context, entries []domain.MemoryEntry) error
}

// Stats scans the whole log. Entries without a type are not counted in
// ByType.
func (s *Store) Stats(ctx context.Context) (_ domain.MemoryStats, err error) {
	const op = "Store.Stats"
	ctx, span := tracer.StartSpan(ctx, "memlog.stats")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return domain.MemoryStats{}, err
	}
	text, entries, err := s.load(ctx)
	if err != nil {
		return domain.MemoryStats{}, domain.WrapOp(op, err)
	}

	stats := domain.MemoryStats{
		Count:     len(entries),
		ByType:    make(map[string]int),
		BySource:  make(map[string]int),
		ByTag:     make(map[string]int),
		SizeBytes: int64(len(text)),
	}
	for i, e := range entries {
		if i == 0 || e.Timestamp < stats.Oldest {
			stats.Oldest = e.Timestamp
		}
		if i == 0 || e.Timestamp > stats.Newest {
			stats.Newest = e.Timestamp
		}
		if e.Type != "" {
			stats.ByType[e.Type]++
		}
		stats.BySource[e.Source]++
		for _, t := range e.Tags {
			stats.ByTag[t]++
		}
	}
	return stats, nil
}

// Export serializes the full Read result as indented JSON. An empty log
// exports as "[]".
func (s *Store) Export(ctx context.Context) ([]byte, error) {
	entries, err := s.Read(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, domain.WrapOp("Store.Export", err)
	}
	return data, nil
}

// ExportTo passes the full Read result to sink.
func (s *Store) ExportTo(ctx context.Context, sink Sink) (err error) {
	const op = "Store.ExportTo"
	ctx, span := tracer.StartSpan(ctx, "memlog.export")
	defer func() { tracer.End(span, err) }()

	entries, err := s.Read(ctx, Filter{})
	if err != nil {
		return err
	}
	span.SetAttributes(tracer.IntAttr("memlog.entries", len(entries)))
	if err := sink.Export(ctx, entries); err != nil {
		return domain.WrapOp(op, fmt.Errorf("sink: %w", err))
	}
	return nil
}
