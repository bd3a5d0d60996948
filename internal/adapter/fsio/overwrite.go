package fsio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"memlog/internal/domain"
)

// OverwriteOnly adapts storage that can only replace whole files. Append is
// read-then-write, and the optional ExclusiveCreator and Renamer capabilities
// of the wrapped filesystem are deliberately not exposed.
type OverwriteOnly struct {
	fs domain.FileSystem
}

var _ domain.FileSystem = (*OverwriteOnly)(nil)

// NewOverwriteOnly wraps fsys.
func NewOverwriteOnly(fsys domain.FileSystem) *OverwriteOnly {
	return &OverwriteOnly{fs: fsys}
}

func (o *OverwriteOnly) Exists(ctx context.Context, path string) (bool, error) {
	return o.fs.Exists(ctx, path)
}

func (o *OverwriteOnly) Read(ctx context.Context, path string) (string, error) {
	return o.fs.Read(ctx, path)
}

func (o *OverwriteOnly) Write(ctx context.Context, path, text string) error {
	return o.fs.Write(ctx, path, text)
}

func (o *OverwriteOnly) Append(ctx context.Context, path, text string) error {
	current, err := o.fs.Read(ctx, path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("append: %w", err)
	}
	return o.fs.Write(ctx, path, current+text)
}

func (o *OverwriteOnly) Delete(ctx context.Context, path string) error {
	return o.fs.Delete(ctx, path)
}

func (o *OverwriteOnly) EnsureDirectory(ctx context.Context, path string) error {
	return o.fs.EnsureDirectory(ctx, path)
}

func (o *OverwriteOnly) HasAccess(ctx context.Context) (bool, error) {
	return o.fs.HasAccess(ctx)
}

func (o *OverwriteOnly) RequestAccess(ctx context.Context) (bool, error) {
	return o.fs.RequestAccess(ctx)
}
