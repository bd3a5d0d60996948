package domain

import (
	"strconv"
	"strings"
)

// SchemaVersion is the wire version written by this build. Readers accept any
// entry whose major component matches.
const SchemaVersion = "1.0"

// MemoryEntry is one record of the shared log. Entries are immutable once
// written; a logical update appends a new entry with the same ID and a later
// Timestamp.
type MemoryEntry struct {
	Version   string     `json:"version"`
	ID        string     `json:"id"`
	Timestamp int64      `json:"timestamp"` // milliseconds since epoch
	Source    string     `json:"source"`    // reverse-domain app identity
	Content   string     `json:"content"`
	Type      string     `json:"type,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	Meta      JSONObject `json:"meta,omitempty"`
	Embedding []float64  `json:"embedding,omitempty"`
}

// HasTag reports whether the entry carries tag.
func (e *MemoryEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// JSONObject is an opaque JSON object. Values are whatever encoding/json
// produces for arbitrary JSON: nil, bool, float64, string, []any or map[string]any.
type JSONObject map[string]any

// VersionMajor returns the MAJOR component of a "MAJOR.MINOR" version string.
func VersionMajor(version string) (int, bool) {
	major, _, ok := strings.Cut(version, ".")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(major)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// VersionsCompatible reports whether two versions share a MAJOR component.
func VersionsCompatible(a, b string) bool {
	ma, ok := VersionMajor(a)
	if !ok {
		return false
	}
	mb, ok := VersionMajor(b)
	return ok && ma == mb
}

// MemoryStats summarizes a full scan of the log.
type MemoryStats struct {
	Count     int            `json:"count"`
	Oldest    int64          `json:"oldest,omitempty"` // min timestamp; zero when Count == 0
	Newest    int64          `json:"newest,omitempty"` // max timestamp; zero when Count == 0
	ByType    map[string]int `json:"by_type"`
	BySource  map[string]int `json:"by_source"`
	ByTag     map[string]int `json:"by_tag"`
	SizeBytes int64          `json:"size_bytes"`
}

// ScoredEntry pairs an entry with its similarity to a query.
type ScoredEntry struct {
	Entry MemoryEntry `json:"entry"`
	Score float64     `json:"score"`
}
