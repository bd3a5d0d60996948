package fsio

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memlog/internal/domain"
)

func TestOSReadWriteAppend(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	path := filepath.Join(dir, "memory.jsonl")
	o := NewOS()

	require.NoError(t, o.EnsureDirectory(ctx, dir))
	require.NoError(t, o.EnsureDirectory(ctx, dir)) // idempotent

	exists, err := o.Exists(ctx, path)
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = o.Read(ctx, path)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "read missing: %v", err)

	require.NoError(t, o.Append(ctx, path, "a\n"))
	require.NoError(t, o.Append(ctx, path, "b\n"))
	got, err := o.Read(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", got)

	require.NoError(t, o.Write(ctx, path, "c\n"))
	got, _ = o.Read(ctx, path)
	assert.Equal(t, "c\n", got)

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}

	require.NoError(t, o.Delete(ctx, path))
	require.NoError(t, o.Delete(ctx, path), "delete of missing file is not an error")
	exists, _ = o.Exists(ctx, path)
	assert.False(t, exists)
}

func TestOSCreateExclusive(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.jsonl.lock")
	o := NewOS()

	created, err := o.CreateExclusive(ctx, path, "123")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = o.CreateExclusive(ctx, path, "456")
	require.NoError(t, err)
	assert.False(t, created)

	got, _ := o.Read(ctx, path)
	assert.Equal(t, "123", got)

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOSCreateExclusiveRace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "race.lock")
	o := NewOS()

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := o.CreateExclusive(ctx, path, "x")
			if err != nil {
				t.Error(err)
				return
			}
			if created {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestOSRename(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	from, to := filepath.Join(dir, "a.tmp"), filepath.Join(dir, "a")
	o := NewOS()

	require.NoError(t, o.Write(ctx, to, "old"))
	require.NoError(t, o.Write(ctx, from, "new"))
	require.NoError(t, o.Rename(ctx, from, to))

	got, _ := o.Read(ctx, to)
	assert.Equal(t, "new", got)
	exists, _ := o.Exists(ctx, from)
	assert.False(t, exists)
}

func TestOSPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission bits not enforced")
	}
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.Mkdir(dir, 0o500))

	err := NewOS().Write(ctx, filepath.Join(dir, "memory.jsonl"), "x")
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestMem(t *testing.T) {
	ctx := context.Background()
	m := NewMem()

	_, err := m.Read(ctx, "/x")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	require.NoError(t, m.Append(ctx, "/x", "1"))
	require.NoError(t, m.Append(ctx, "/x", "2"))
	got, _ := m.Read(ctx, "/x")
	assert.Equal(t, "12", got)

	created, _ := m.CreateExclusive(ctx, "/x", "3")
	assert.False(t, created)

	require.NoError(t, m.Rename(ctx, "/x", "/y"))
	assert.Equal(t, map[string]string{"/y": "12"}, m.Files())

	require.NoError(t, m.EnsureDirectory(ctx, "/d"))
	assert.True(t, m.HasDir("/d"))

	m.SetAccess(false, false)
	ok, _ := m.HasAccess(ctx)
	assert.False(t, ok)
	ok, _ = m.RequestAccess(ctx)
	assert.False(t, ok)
	m.SetAccess(false, true)
	ok, _ = m.RequestAccess(ctx)
	assert.True(t, ok)
	ok, _ = m.HasAccess(ctx)
	assert.True(t, ok)
	assert.Equal(t, 2, m.AccessRequests())
}

func TestOverwriteOnly(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	o := NewOverwriteOnly(mem)

	require.NoError(t, o.Append(ctx, "/log", "a\n"))
	require.NoError(t, o.Append(ctx, "/log", "b\n"))
	got, err := o.Read(ctx, "/log")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", got)

	var fsys domain.FileSystem = o
	_, isExclusive := fsys.(domain.ExclusiveCreator)
	_, isRenamer := fsys.(domain.Renamer)
	assert.False(t, isExclusive)
	assert.False(t, isRenamer)
}

func TestConsentGate(t *testing.T) {
	ctx := context.Background()
	consentPath := filepath.Join(t.TempDir(), "consent", "memlog.json")
	mem := NewMem()

	var prompts int
	answer := false
	prompt := func(_ context.Context, appID string) (bool, error) {
		prompts++
		assert.Equal(t, "com.example.app", appID)
		return answer, nil
	}

	g := NewConsentGate(ctx, mem, consentPath, "com.example.app", prompt)
	ok, err := g.HasAccess(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = g.RequestAccess(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	answer = true
	ok, err = g.RequestAccess(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, prompts)

	// The record lives in the wrapped filesystem, not on the real disk.
	assert.Contains(t, mem.Files()[consentPath], `"granted": true`)
	assert.True(t, mem.HasDir(filepath.Dir(consentPath)))
	_, err = os.Stat(consentPath)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	// Persisted: a fresh gate sees the grant without prompting.
	g2 := NewConsentGate(ctx, mem, consentPath, "com.example.app", nil)
	ok, _ = g2.HasAccess(ctx)
	assert.True(t, ok)
	assert.Equal(t, "com.example.app", g2.Consent().GrantedTo)
	assert.NotEmpty(t, g2.Consent().GrantedAt)

	require.NoError(t, g2.Revoke(ctx))
	g3 := NewConsentGate(ctx, mem, consentPath, "com.example.app", nil)
	ok, _ = g3.HasAccess(ctx)
	assert.False(t, ok)
	ok, _ = g3.RequestAccess(ctx)
	assert.False(t, ok, "no prompt means no grant")

	require.NoError(t, g3.Grant(ctx))
	ok, _ = NewConsentGate(ctx, mem, consentPath, "com.example.app", nil).HasAccess(ctx)
	assert.True(t, ok)
}

func TestConsentGateOnDisk(t *testing.T) {
	ctx := context.Background()
	consentPath := filepath.Join(t.TempDir(), "consent", "memlog.json")

	g := NewConsentGate(ctx, NewOS(), consentPath, "com.example.app", nil)
	require.NoError(t, g.Grant(ctx))

	info, err := os.Stat(consentPath)
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
	ok, _ := NewConsentGate(ctx, NewOS(), consentPath, "com.example.app", nil).HasAccess(ctx)
	assert.True(t, ok)
}

func TestConsentGateEmptyCreateKeepsPeerContent(t *testing.T) {
	ctx := context.Background()
	mem := NewMem()
	peer := &lateCreator{FileSystem: NewOverwriteOnly(mem), mem: mem, path: "/log", text: "peer\n"}
	g := NewConsentGate(ctx, peer, "/consent.json", "a.b", nil)

	created, err := g.CreateExclusive(ctx, "/log", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "peer\n", mem.Files()["/log"])
}

// lateCreator reports path missing once, then creates it with text as if a
// concurrent process won the race.
type lateCreator struct {
	domain.FileSystem
	mem  *Mem
	path string
	text string
	once sync.Once
}

func (l *lateCreator) Exists(ctx context.Context, path string) (bool, error) {
	raced := false
	if path == l.path {
		l.once.Do(func() { raced = true })
	}
	if raced {
		return false, l.mem.Append(ctx, path, l.text)
	}
	return l.FileSystem.Exists(ctx, path)
}

func TestConsentGateForwardsCapabilities(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for name, inner := range map[string]domain.FileSystem{
		"capable":        NewMem(),
		"overwrite-only": NewOverwriteOnly(NewMem()),
	} {
		t.Run(name, func(t *testing.T) {
			g := NewConsentGate(ctx, inner, filepath.Join(dir, name+".json"), "a.b", nil)

			created, err := g.CreateExclusive(ctx, "/lock", "1")
			require.NoError(t, err)
			assert.True(t, created)
			created, err = g.CreateExclusive(ctx, "/lock", "2")
			require.NoError(t, err)
			assert.False(t, created)

			require.NoError(t, g.Write(ctx, "/tmp", "data"))
			require.NoError(t, g.Rename(ctx, "/tmp", "/final"))
			got, err := g.Read(ctx, "/final")
			require.NoError(t, err)
			assert.Equal(t, "data", got)
			exists, _ := g.Exists(ctx, "/tmp")
			assert.False(t, exists)
		})
	}
}
