package fsio

import (
	"context"
	"fmt"
	"io/fs"
	"maps"
	"sync"

	"memlog/internal/domain"
)

// Mem is an in-memory domain.FileSystem for tests and ephemeral stores. It
// implements domain.ExclusiveCreator and domain.Renamer.
type Mem struct {
	mu        sync.Mutex
	files     map[string]string
	dirs      map[string]bool
	hasAccess bool
	grant     bool
	requests  int
}

var (
	_ domain.FileSystem       = (*Mem)(nil)
	_ domain.ExclusiveCreator = (*Mem)(nil)
	_ domain.Renamer          = (*Mem)(nil)
)

// NewMem creates an empty in-memory filesystem with access granted.
func NewMem() *Mem {
	return &Mem{
		files:     make(map[string]string),
		dirs:      make(map[string]bool),
		hasAccess: true,
		grant:     true,
	}
}

// SetAccess configures the access controller: has is the current state and
// grant is the answer RequestAccess gives.
func (m *Mem) SetAccess(has, grant bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hasAccess, m.grant = has, grant
}

// AccessRequests returns how many times RequestAccess was called.
func (m *Mem) AccessRequests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Files returns a copy of all file contents keyed by path.
func (m *Mem) Files() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.files)
}

// HasDir reports whether EnsureDirectory was called for path.
func (m *Mem) HasDir(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirs[path]
}

func (m *Mem) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.files[path]
	return ok || m.dirs[path], nil
}

func (m *Mem) Read(_ context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[path]
	if !ok {
		return "", fmt.Errorf("read %s: %w", path, fs.ErrNotExist)
	}
	return s, nil
}

func (m *Mem) Write(_ context.Context, path, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = text
	return nil
}

func (m *Mem) Append(_ context.Context, path, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] += text
	return nil
}

func (m *Mem) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

func (m *Mem) EnsureDirectory(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[path] = true
	return nil
}

func (m *Mem) HasAccess(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasAccess, nil
}

func (m *Mem) RequestAccess(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	if m.grant {
		m.hasAccess = true
	}
	return m.grant, nil
}

func (m *Mem) CreateExclusive(_ context.Context, path, text string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[path]; ok {
		return false, nil
	}
	m.files[path] = text
	return true, nil
}

func (m *Mem) Rename(_ context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.files[from]
	if !ok {
		return fmt.Errorf("rename %s: %w", from, fs.ErrNotExist)
	}
	m.files[to] = s
	delete(m.files, from)
	return nil
}
