// Package fsio provides domain.FileSystem implementations: the local OS
// filesystem, an in-memory filesystem, an overwrite-only wrapper for storage
// without a native append, and a consent gate for permission-gated hosts.
package fsio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"memlog/internal/domain"
)

const (
	filePerm = 0o600
	dirPerm  = 0o700
)

// OS is a domain.FileSystem backed by the local filesystem. It also
// implements domain.ExclusiveCreator and domain.Renamer.
type OS struct{}

// NewOS returns the local filesystem adapter.
func NewOS() *OS { return &OS{} }

var (
	_ domain.FileSystem       = (*OS)(nil)
	_ domain.ExclusiveCreator = (*OS)(nil)
	_ domain.Renamer          = (*OS)(nil)
)

func (*OS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, wrapErr("stat", err)
	}
}

func (*OS) Read(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", wrapErr("read", err)
	}
	return string(data), nil
}

func (*OS) Write(_ context.Context, path, text string) error {
	return wrapErr("write", os.WriteFile(path, []byte(text), filePerm))
}

// Append writes text with a single write call on an O_APPEND descriptor.
func (*OS) Append(_ context.Context, path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return wrapErr("append", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return wrapErr("append", err)
	}
	return wrapErr("append", f.Close())
}

func (*OS) Delete(_ context.Context, path string) error {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return wrapErr("delete", err)
}

func (*OS) EnsureDirectory(_ context.Context, path string) error {
	return wrapErr("mkdir", os.MkdirAll(path, dirPerm))
}

// HasAccess always reports true: the local filesystem has no out-of-band
// permission step. Permission errors surface from the I/O calls themselves.
func (*OS) HasAccess(context.Context) (bool, error) { return true, nil }

func (*OS) RequestAccess(context.Context) (bool, error) { return true, nil }

// CreateExclusive writes text to a private temp file and hard-links it into
// place, so the target never exists without its full content. Filesystems
// without hard links fall back to O_EXCL create.
func (o *OS) CreateExclusive(_ context.Context, path, text string) (bool, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return false, wrapErr("create", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		return false, wrapErr("create", err)
	}
	if err := tmp.Close(); err != nil {
		return false, wrapErr("create", err)
	}

	err = os.Link(tmpPath, path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrExist):
		return false, nil
	case errors.Is(err, fs.ErrPermission):
		return false, wrapErr("link", err)
	}
	return createExcl(path, text)
}

func createExcl(path, text string) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, wrapErr("create", err)
	}
	if _, err := f.WriteString(text); err != nil {
		f.Close()
		return true, wrapErr("create", err)
	}
	return true, wrapErr("create", f.Close())
}

// Rename atomically replaces to with from.
func (*OS) Rename(_ context.Context, from, to string) error {
	return wrapErr("rename", os.Rename(from, to))
}

// wrapErr adds op context. Permission failures also match domain.ErrAccessDenied.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrAccessDenied, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
