package domain

import "context"

// FileSystem is the narrow platform I/O capability the store depends on. Paths
// are adapter-specific strings; the store never assumes a concrete storage API.
//
// Read of a missing path returns an error wrapping fs.ErrNotExist. Delete of a
// missing path is not an error. Errors caused by missing permission should wrap
// ErrAccessDenied.
type FileSystem interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) (string, error)
	// Write replaces the full content of path, creating it if needed.
	Write(ctx context.Context, path, text string) error
	// Append adds text to the end of path, creating it if needed. Adapters
	// that can only overwrite implement it as read-then-write.
	Append(ctx context.Context, path, text string) error
	Delete(ctx context.Context, path string) error
	EnsureDirectory(ctx context.Context, path string) error
	AccessController
}

// AccessController is the out-of-band permission surface of permission-gated
// environments.
type AccessController interface {
	HasAccess(ctx context.Context) (bool, error)
	// RequestAccess asks for access and reports whether it was granted.
	RequestAccess(ctx context.Context) (bool, error)
}

// ExclusiveCreator is an optional FileSystem capability: create path with text
// only if it does not exist yet, atomically. created is false when path
// already existed.
type ExclusiveCreator interface {
	CreateExclusive(ctx context.Context, path, text string) (created bool, err error)
}

// Renamer is an optional FileSystem capability used for crash-safe rewrites.
// Rename must atomically replace to when it exists.
type Renamer interface {
	Rename(ctx context.Context, from, to string) error
}
