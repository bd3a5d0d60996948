package memlog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"memlog/internal/domain"
	"memlog/internal/infra/tracer"
	"memlog/internal/validate"
)

// Filter narrows Read, Search and SemanticSearch. Zero values match
// everything.
type Filter struct {
	Since  *int64   // inclusive lower bound on timestamp
	Until  *int64   // inclusive upper bound on timestamp
	Type   string   // exact match
	Source string   // exact match
	Tags   []string // entry must carry at least one
	Limit  int      // maximum results after sorting; 0 means no limit
}

// Match reports whether e passes every predicate of f. Limit is not a
// predicate and is ignored.
func (f Filter) Match(e *domain.MemoryEntry) bool {
	if f.Since != nil && e.Timestamp < *f.Since {
		return false
	}
	if f.Until != nil && e.Timestamp > *f.Until {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, e.HasTag) {
		return false
	}
	return true
}

// Read returns every entry passing f, newest first. Malformed lines and
// entries with an incompatible major version are skipped and logged; they
// never fail the call. Read takes no lock.
func (s *Store) Read(ctx context.Context, f Filter) (_ []domain.MemoryEntry, err error) {
	const op = "Store.Read"
	ctx, span := tracer.StartSpan(ctx, "memlog.read")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return nil, err
	}
	entries, err := s.query(ctx, f)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	span.SetAttributes(tracer.IntAttr("memlog.results", len(entries)))
	return entries, nil
}

// Search is Read narrowed to entries whose content contains keyword, ignoring
// case. f.Limit applies after the keyword match.
func (s *Store) Search(ctx context.Context, keyword string, f Filter) (_ []domain.MemoryEntry, err error) {
	const op = "Store.Search"
	ctx, span := tracer.StartSpan(ctx, "memlog.search")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return nil, err
	}
	limit := f.Limit
	f.Limit = 0
	entries, err := s.query(ctx, f)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	needle := strings.ToLower(keyword)
	matched := entries[:0]
	for _, e := range entries {
		if strings.Contains(strings.ToLower(e.Content), needle) {
			matched = append(matched, e)
		}
	}
	return truncate(matched, limit), nil
}

// SemanticSearch embeds query and returns the k entries, among those passing
// f and carrying an embedding, most similar to it. f.Limit is ignored.
func (s *Store) SemanticSearch(ctx context.Context, query string, k int, f Filter) (_ []domain.ScoredEntry, err error) {
	const op = "Store.SemanticSearch"
	ctx, span := tracer.StartSpan(ctx, "memlog.semantic_search")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return nil, err
	}
	sim := s.opts.Similarity
	if sim == nil {
		return nil, domain.NewDomainError(op, domain.ErrNoSimilarityProvider, "")
	}
	if k <= 0 {
		return nil, domain.NewDomainError(op, domain.ErrInvalidInput, fmt.Sprintf("k must be positive, got %d", k))
	}

	f.Limit = 0
	entries, err := s.query(ctx, f)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}
	entries = slices.DeleteFunc(entries, func(e domain.MemoryEntry) bool { return len(e.Embedding) == 0 })
	if len(entries) == 0 {
		return []domain.ScoredEntry{}, nil
	}

	qvec, err := s.embed(ctx, query)
	if err != nil {
		return nil, domain.WrapOp(op, err)
	}

	scored := make([]domain.ScoredEntry, len(entries))
	for i, e := range entries {
		scored[i] = domain.ScoredEntry{Entry: e, Score: sim.Similarity(qvec, e.Embedding)}
	}
	slices.SortStableFunc(scored, func(a, b domain.ScoredEntry) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return truncate(scored, k), nil
}

// Latest keeps only the newest revision of each id, newest first. Ties on
// timestamp keep the revision that appears first in entries.
func Latest(entries []domain.MemoryEntry) []domain.MemoryEntry {
	newest := make(map[string]int, len(entries))
	for i, e := range entries {
		j, ok := newest[e.ID]
		if !ok || e.Timestamp > entries[j].Timestamp {
			newest[e.ID] = i
		}
	}
	out := make([]domain.MemoryEntry, 0, len(newest))
	for i, e := range entries {
		if newest[e.ID] == i {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, byTimestampDesc)
	return out
}

func (s *Store) query(ctx context.Context, f Filter) ([]domain.MemoryEntry, error) {
	_, entries, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	matched := entries[:0]
	for i := range entries {
		if f.Match(&entries[i]) {
			matched = append(matched, entries[i])
		}
	}
	sortNewestFirst(matched)
	return truncate(matched, f.Limit), nil
}

// load reads the log and decodes every valid, compatible line in file order.
// A missing log reads as empty.
func (s *Store) load(ctx context.Context) (string, []domain.MemoryEntry, error) {
	text, err := s.fs.Read(ctx, s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", []domain.MemoryEntry{}, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("read log: %w", err)
	}
	return text, s.parse(text), nil
}

func (s *Store) parse(text string) []domain.MemoryEntry {
	entries := []domain.MemoryEntry{}
	for i, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		entry, err := validate.JSON([]byte(line))
		if err != nil {
			s.logger.Warn("skipping malformed log line", "line", i+1, "error", err)
			continue
		}
		if !validate.Compatible(entry.Version) {
			s.logger.Warn("skipping entry with incompatible version",
				"line", i+1, "id", entry.ID, "version", entry.Version, "supported", domain.SchemaVersion)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries
}

// sortNewestFirst orders entries given in file order by descending
// timestamp. On equal timestamps the line written later comes first.
func sortNewestFirst(entries []domain.MemoryEntry) {
	slices.Reverse(entries)
	slices.SortStableFunc(entries, byTimestampDesc)
}

func byTimestampDesc(a, b domain.MemoryEntry) int {
	return cmp.Compare(b.Timestamp, a.Timestamp)
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
