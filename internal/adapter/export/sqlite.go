package export

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	_ "modernc.org/sqlite"

	"memlog/internal/domain"
)

// SQLite mirrors the log into a SQLite database for ad-hoc SQL and full-text
// queries. Each Export replaces the previous snapshot. Rows keep log order in
// seq, and every revision of an id is its own row.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens or creates the database at path and ensures its schema.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma: %w", err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// DB exposes the underlying handle for queries.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

// Export implements memlog.Sink.
func (s *SQLite) Export(ctx context.Context, entries []domain.MemoryEntry) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{"entry_tags", "entries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	insEntry, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (seq, id, version, timestamp, source, content, type, meta, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer insEntry.Close()

	insTag, err := tx.PrepareContext(ctx, `INSERT INTO entry_tags (seq, tag) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tag insert: %w", err)
	}
	defer insTag.Close()

	for i, e := range entries {
		var meta any
		if e.Meta != nil {
			b, err := json.Marshal(e.Meta)
			if err != nil {
				return fmt.Errorf("marshal meta of %s: %w", e.ID, err)
			}
			meta = string(b)
		}
		var typ any
		if e.Type != "" {
			typ = e.Type
		}
		if _, err := insEntry.ExecContext(ctx, i, e.ID, e.Version, e.Timestamp, e.Source,
			e.Content, typ, meta, float64sToBytes(e.Embedding)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
		for _, tag := range e.Tags {
			if _, err := insTag.ExecContext(ctx, i, tag); err != nil {
				return fmt.Errorf("insert tag %q of %s: %w", tag, e.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if s.logger != nil {
		s.logger.Debug("sqlite snapshot written", "entries", len(entries))
	}
	return nil
}

// Entries reads the snapshot back in log order.
func (s *SQLite) Entries(ctx context.Context) ([]domain.MemoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, version, timestamp, source, content, type, meta, embedding
		FROM entries ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.MemoryEntry
	bySeq := make(map[int64]int)
	for rows.Next() {
		var (
			seq       int64
			e         domain.MemoryEntry
			typ, meta sql.NullString
			embedding []byte
		)
		if err := rows.Scan(&seq, &e.ID, &e.Version, &e.Timestamp, &e.Source, &e.Content, &typ, &meta, &embedding); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Type = typ.String
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &e.Meta); err != nil {
				return nil, fmt.Errorf("decode meta of %s: %w", e.ID, err)
			}
		}
		e.Embedding = bytesToFloat64s(embedding)
		bySeq[seq] = len(entries)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}

	tags, err := s.db.QueryContext(ctx, `SELECT seq, tag FROM entry_tags ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer tags.Close()
	for tags.Next() {
		var (
			seq int64
			tag string
		)
		if err := tags.Scan(&seq, &tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := bySeq[seq]; ok {
			entries[i].Tags = append(entries[i].Tags, tag)
		}
	}
	return entries, tags.Err()
}

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS entries (
			seq       INTEGER PRIMARY KEY,
			id        TEXT    NOT NULL,
			version   TEXT    NOT NULL,
			timestamp INTEGER NOT NULL,
			source    TEXT    NOT NULL,
			content   TEXT    NOT NULL,
			type      TEXT,
			meta      TEXT,
			embedding BLOB
		);
		CREATE INDEX IF NOT EXISTS entries_id ON entries(id);
		CREATE INDEX IF NOT EXISTS entries_timestamp ON entries(timestamp);

		CREATE TABLE IF NOT EXISTS entry_tags (
			seq INTEGER NOT NULL REFERENCES entries(seq) ON DELETE CASCADE,
			tag TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS entry_tags_tag ON entry_tags(tag);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			content, content=entries, content_rowid=seq
		);

		CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, content) VALUES (new.seq, new.content);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content) VALUES ('delete', old.seq, old.content);
		END;
	`
	_, err := db.Exec(schema)
	return err
}

// float64sToBytes packs v little-endian. An empty vector is stored as NULL.
func float64sToBytes(v []float64) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*8)
	for i, f := range v {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(f))
	}
	return buf
}

func bytesToFloat64s(b []byte) []float64 {
	if len(b) == 0 || len(b)%8 != 0 {
		return nil
	}
	v := make([]float64, len(b)/8)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return v
}
