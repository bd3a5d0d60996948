// Package memlog implements the shared memory log: an append-only JSONL file
// that independent processes write through an advisory sentinel lock and read
// without locking.
//
// Revisions are not merged. Update appends a new entry sharing the id, and
// Read returns every revision; callers that want "latest revision wins" apply
// Latest to the result.
package memlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"memlog/internal/domain"
	"memlog/internal/infra/tracer"
	"memlog/internal/lock"
	"memlog/internal/usecase/eventbus"
	"memlog/internal/validate"
)

// DefaultLockTimeout is used when Options.LockTimeout is not positive.
const DefaultLockTimeout = lock.DefaultTimeout

var timeNow = time.Now

// Options configures a Store.
type Options struct {
	AppID       string        // reverse-domain identity written as each entry's source
	Path        string        // log file; DefaultPath() when empty
	LockTimeout time.Duration // default 5s
	Debug       bool          // debug-level logging when Logger is nil

	// Similarity enables SemanticSearch. With AutoEmbed, Write and Update
	// compute an embedding from content when the caller supplies none.
	Similarity domain.SimilarityProvider
	AutoEmbed  bool

	// DisableAtomicRewrite makes Delete overwrite the log in place even when
	// the filesystem supports renames.
	DisableAtomicRewrite bool

	// ResetLock makes Initialize remove any sentinel, live or not. By default
	// only abandoned or unparseable sentinels are cleared.
	ResetLock bool

	Logger *slog.Logger
}

// DefaultPath returns $HOME/.memlog/memory.jsonl.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".memlog", "memory.jsonl")
}

// Store is one handle on a shared log file. Its lifetime is owned by the
// caller; several Stores, in one process or many, may share a file.
type Store struct {
	fs     domain.FileSystem
	opts   Options
	path   string
	lock   *lock.Manager
	bus    *eventbus.Bus
	logger *slog.Logger

	initialized atomic.Bool
	closed      atomic.Bool
}

// New creates a Store. Initialize must succeed before any other operation.
func New(fsys domain.FileSystem, opts Options) (*Store, error) {
	if fsys == nil {
		return nil, errors.New("memlog: nil filesystem")
	}
	if err := validate.Source(opts.AppID); err != nil {
		return nil, fmt.Errorf("app id: %w", err)
	}
	if opts.Path == "" {
		opts.Path = DefaultPath()
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}

	logger := opts.Logger
	if logger == nil {
		level := slog.LevelInfo
		if opts.Debug {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	logger = logger.With("component", "memlog", "app", opts.AppID)

	return &Store{
		fs:     fsys,
		opts:   opts,
		path:   opts.Path,
		lock:   lock.New(fsys, opts.Path, opts.LockTimeout, logger),
		bus:    eventbus.New(logger),
		logger: logger,
	}, nil
}

// Path returns the log file path.
func (s *Store) Path() string { return s.path }

// LockPath returns the sentinel path.
func (s *Store) LockPath() string { return s.lock.Path() }

// AppID returns the configured source identity.
func (s *Store) AppID() string { return s.opts.AppID }

// Initialize checks access, creates the log file and its directory, and
// clears a leftover sentinel. It is idempotent.
//
// Only sentinels that are abandoned (older than twice the lock timeout) or
// unparseable count as leftovers. A live sentinel belongs to another process
// mid-operation and is kept unless Options.ResetLock is set.
func (s *Store) Initialize(ctx context.Context) (err error) {
	const op = "Store.Initialize"
	ctx, span := tracer.StartSpan(ctx, "memlog.initialize")
	defer func() { tracer.End(span, err) }()

	if s.closed.Load() {
		return domain.NewDomainError(op, domain.ErrNotInitialized, "store is closed")
	}

	if err := s.checkAccess(ctx); err != nil {
		return err
	}

	if err := s.fs.EnsureDirectory(ctx, filepath.Dir(s.path)); err != nil {
		return domain.WrapOp(op, fmt.Errorf("ensure directory: %w", err))
	}
	if err := s.createLog(ctx); err != nil {
		return domain.WrapOp(op, fmt.Errorf("create log: %w", err))
	}

	if s.opts.ResetLock {
		if err := s.lock.Release(ctx); err != nil {
			return domain.WrapOp(op, err)
		}
	} else if _, err := s.lock.IsLocked(ctx); err != nil {
		return domain.WrapOp(op, err)
	}

	s.initialized.Store(true)
	s.logger.Debug("store initialized", "path", s.path, "lock_timeout", s.opts.LockTimeout)
	return nil
}

// createLog creates an empty log without truncating one that a peer created
// concurrently.
func (s *Store) createLog(ctx context.Context) error {
	if ec, ok := s.fs.(domain.ExclusiveCreator); ok {
		_, err := ec.CreateExclusive(ctx, s.path, "")
		return err
	}
	exists, err := s.fs.Exists(ctx, s.path)
	if err != nil || exists {
		return err
	}
	return s.fs.Append(ctx, s.path, "")
}

func (s *Store) checkAccess(ctx context.Context) error {
	const op = "Store.Initialize"
	ok, err := s.fs.HasAccess(ctx)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if ok {
		return nil
	}
	ok, err = s.fs.RequestAccess(ctx)
	if err != nil {
		return domain.WrapOp(op, err)
	}
	if !ok {
		return domain.NewDomainError(op, domain.ErrAccessDenied, "access not granted to "+s.opts.AppID)
	}
	return nil
}

// Close detaches all listeners. Further operations fail with
// domain.ErrNotInitialized.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.bus.Close()
	return nil
}

// IsLocked reports whether some process currently holds the log's lock.
func (s *Store) IsLocked(ctx context.Context) (bool, error) {
	if err := s.ready("Store.IsLocked"); err != nil {
		return false, err
	}
	return s.lock.IsLocked(ctx)
}

// OnChange registers a synchronous listener for write, delete and clear
// events. A panicking listener is logged and does not affect other listeners
// or the operation that triggered it. It returns an unsubscribe function.
func (s *Store) OnChange(listener domain.EventHandler) func() {
	return s.bus.SubscribeAll(listener)
}

func (s *Store) ready(op string) error {
	if s.closed.Load() {
		return domain.NewDomainError(op, domain.ErrNotInitialized, "store is closed")
	}
	if !s.initialized.Load() {
		return domain.NewDomainError(op, domain.ErrNotInitialized, "call Initialize first")
	}
	return nil
}

func (s *Store) publish(ctx context.Context, event domain.Event) {
	now := timeNow()
	event.ID = generateULID(now)
	event.Timestamp = now
	s.bus.Publish(ctx, event)
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func generateULID(t time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), ulidEntropy).String()
}
