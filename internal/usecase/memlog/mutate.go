package memlog

import (
	"context"
	"fmt"
	"strings"

	"memlog/internal/domain"
	"memlog/internal/infra/tracer"
	"memlog/internal/validate"
)

// Delete removes every revision of id by rewriting the log under the lock and
// returns how many lines were removed. Only lines Read would return count as
// revisions of id: malformed lines and entries of an incompatible version are
// kept even when they carry id. Byte-identical duplicate lines are collapsed.
// When no revision matches the log is left untouched and the error wraps
// domain.ErrEntryNotFound.
func (s *Store) Delete(ctx context.Context, id string) (removed int, err error) {
	const op = "Store.Delete"
	ctx, span := tracer.StartSpan(ctx, "memlog.delete")
	defer func() { tracer.End(span, err) }()
	span.SetAttributes(tracer.StringAttr("memlog.id", id))

	if err := s.ready(op); err != nil {
		return 0, err
	}

	err = s.lock.WithLock(ctx, func(ctx context.Context) error {
		text, err := s.fs.Read(ctx, s.path)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}

		kept, n := withoutID(text, id)
		if n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, id)
		}
		removed = n

		content := ""
		if len(kept) > 0 {
			content = strings.Join(kept, "\n") + "\n"
		}
		return s.rewrite(ctx, content)
	})
	if err != nil {
		return 0, domain.WrapOp(op, err)
	}

	s.logger.Debug("entry deleted", "id", id, "lines_removed", removed)
	s.publish(ctx, domain.Event{Type: domain.EventDelete, EntryID: id, Removed: removed})
	return removed, nil
}

// Clear truncates the log under the lock.
func (s *Store) Clear(ctx context.Context) (err error) {
	const op = "Store.Clear"
	ctx, span := tracer.StartSpan(ctx, "memlog.clear")
	defer func() { tracer.End(span, err) }()

	if err := s.ready(op); err != nil {
		return err
	}

	err = s.lock.WithLock(ctx, func(ctx context.Context) error {
		return s.fs.Write(ctx, s.path, "")
	})
	if err != nil {
		return domain.WrapOp(op, err)
	}

	s.logger.Debug("log cleared", "path", s.path)
	s.publish(ctx, domain.Event{Type: domain.EventClear})
	return nil
}

// withoutID returns the raw lines of text that are not readable revisions of
// id, in order, and the number of lines that were.
func withoutID(text, id string) (kept []string, removed int) {
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if entry, err := validate.JSON([]byte(line)); err == nil && entry.ID == id && validate.Compatible(entry.Version) {
			removed++
			continue
		}
		if seen[line] {
			continue
		}
		seen[line] = true
		kept = append(kept, line)
	}
	return kept, removed
}

// rewrite replaces the log with content. With a Renamer it writes a sibling
// temp file and renames it over the log so a crash leaves either the old or
// the new file.
func (s *Store) rewrite(ctx context.Context, content string) error {
	r, ok := s.fs.(domain.Renamer)
	if !ok || s.opts.DisableAtomicRewrite {
		return s.fs.Write(ctx, s.path, content)
	}

	tmp := s.path + ".tmp"
	if err := s.fs.Write(ctx, tmp, content); err != nil {
		return fmt.Errorf("write temp log: %w", err)
	}
	if err := r.Rename(ctx, tmp, s.path); err != nil {
		if derr := s.fs.Delete(ctx, tmp); derr != nil {
			s.logger.Warn("failed to remove temp log", "path", tmp, "error", derr)
		}
		return fmt.Errorf("replace log: %w", err)
	}
	return nil
}
