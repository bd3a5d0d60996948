// Package export holds sinks that receive a full snapshot of the memory log.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"memlog/internal/domain"
)

// JSONFile writes the snapshot as an indented JSON array. The file is
// replaced atomically, so readers never see a half-written export.
type JSONFile struct {
	path string
}

// NewJSONFile creates a sink writing to path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Export implements memlog.Sink.
func (j *JSONFile) Export(_ context.Context, entries []domain.MemoryEntry) error {
	if entries == nil {
		entries = []domain.MemoryEntry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export: %w", err)
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".export-*.json")
	if err != nil {
		return fmt.Errorf("create temp export: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export: %w", err)
	}
	if err := os.Rename(tmp.Name(), j.path); err != nil {
		return fmt.Errorf("replace export: %w", err)
	}
	return nil
}
