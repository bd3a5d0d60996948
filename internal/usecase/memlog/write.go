package memlog

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"memlog/internal/domain"
	"memlog/internal/infra/tracer"
	"memlog/internal/validate"
)

// WriteInput is the caller-supplied part of a new entry. The store fills in
// version, id, source and, unless Timestamp is set, the timestamp.
type WriteInput struct {
	Content   string
	Type      string
	Tags      []string
	Meta      domain.JSONObject
	Embedding []float64
	Timestamp *int64 // milliseconds since epoch
}

// Changes lists the fields Update replaces. Nil fields keep the previous
// revision's value; a non-nil empty Tags clears the tags.
type Changes struct {
	Content   *string
	Type      *string
	Tags      []string
	Meta      domain.JSONObject
	Embedding []float64
}

// Write appends a new entry and returns it. Validation happens before any
// I/O; the append runs under the lock.
func (s *Store) Write(ctx context.Context, in WriteInput) (_ *domain.MemoryEntry, err error) {
	const op = "Store.Write"
	ctx, span := tracer.StartSpan(ctx, "memlog.write")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return nil, err
	}

	ts := timeNow().UnixMilli()
	if in.Timestamp != nil {
		ts = *in.Timestamp
	}
	entry := domain.MemoryEntry{
		Version:   domain.SchemaVersion,
		ID:        uuid.NewString(),
		Timestamp: ts,
		Source:    s.opts.AppID,
		Content:   in.Content,
		Type:      in.Type,
		Tags:      slices.Clone(in.Tags),
		Meta:      in.Meta,
		Embedding: slices.Clone(in.Embedding),
	}
	if err := s.commit(ctx, op, &entry, false); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Update appends a revision of the newest entry with id, merged with ch and
// stamped now. Earlier revisions stay in the log. When content changes
// without a new embedding, the stale embedding is dropped (or recomputed
// with AutoEmbed).
func (s *Store) Update(ctx context.Context, id string, ch Changes) (_ *domain.MemoryEntry, err error) {
	const op = "Store.Update"
	ctx, span := tracer.StartSpan(ctx, "memlog.update")
	defer func() { tracer.End(span, err) }()
	span.SetAttributes(tracer.StringAttr("memlog.id", id))

	if err := s.ready(op); err != nil {
		return nil, err
	}

	_, entries, err := s.load(ctx)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	sortNewestFirst(entries)
	idx := slices.IndexFunc(entries, func(e domain.MemoryEntry) bool { return e.ID == id })
	if idx < 0 {
		return nil, domain.NewDomainError(op, domain.ErrEntryNotFound, id)
	}

	next := entries[idx]
	next.Version = domain.SchemaVersion
	next.Source = s.opts.AppID
	next.Timestamp = timeNow().UnixMilli()
	if ch.Content != nil && *ch.Content != next.Content {
		next.Content = *ch.Content
		next.Embedding = nil
	}
	if ch.Type != nil {
		next.Type = *ch.Type
	}
	if ch.Tags != nil {
		next.Tags = slices.Clone(ch.Tags)
	}
	if ch.Meta != nil {
		next.Meta = ch.Meta
	}
	if ch.Embedding != nil {
		next.Embedding = slices.Clone(ch.Embedding)
	}

	if err := s.commit(ctx, op, &next, true); err != nil {
		return nil, err
	}
	return &next, nil
}

// commit validates entry, fills a missing embedding when configured, appends
// it under the lock and notifies listeners.
func (s *Store) commit(ctx context.Context, op string, entry *domain.MemoryEntry, revision bool) error {
	if len(entry.Tags) == 0 {
		entry.Tags = nil
	}
	if len(entry.Meta) == 0 {
		entry.Meta = nil
	}
	if _, err := validate.Entry(entry); err != nil {
		return domain.WrapOp(op, err)
	}

	if len(entry.Embedding) == 0 && s.opts.AutoEmbed && s.opts.Similarity != nil {
		vec, err := s.embed(ctx, entry.Content)
		if err != nil {
			return domain.WrapOp(op, err)
		}
		entry.Embedding = vec
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return domain.WrapOp(op, &domain.ValidationError{Reason: fmt.Sprintf("encode entry: %v", err)})
	}

	err = s.lock.WithLock(ctx, func(ctx context.Context) error {
		return s.fs.Append(ctx, s.path, string(line)+"\n")
	})
	if err != nil {
		return domain.WrapOp(op, err)
	}

	s.logger.Debug("entry written", "id", entry.ID, "revision", revision, "bytes", len(line)+1)
	e := *entry
	s.publish(ctx, domain.Event{Type: domain.EventWrite, Entry: &e, Revision: revision})
	return nil
}

func (s *Store) embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := s.opts.Similarity.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: provider %s returned %d vectors", domain.ErrEmbeddingFailed, s.opts.Similarity.Name(), len(vecs))
	}
	return vecs[0], nil
}
