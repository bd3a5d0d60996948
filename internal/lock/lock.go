// Package lock implements cross-process advisory mutual exclusion over a
// sentinel file co-located with the log. The sentinel holds its creation epoch
// in milliseconds; a sentinel older than twice the lock timeout is presumed
// abandoned and may be reclaimed by any contender.
package lock

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"memlog/internal/domain"
)

const (
	baseBackoff = 100 * time.Millisecond
	maxBackoff  = time.Second
	maxJitter   = 50 * time.Millisecond

	// DefaultTimeout applies when a Manager is built with a non-positive timeout.
	DefaultTimeout = 5 * time.Second
)

var (
	timeNow = time.Now
	jitter  = func() time.Duration { return rand.N(maxJitter + 1) }
	sleep   = sleepContext
)

// FileSystem is the subset of domain.FileSystem the lock needs. When the
// implementation also satisfies domain.ExclusiveCreator, sentinel creation is
// atomic; otherwise it falls back to exists-then-write.
type FileSystem interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, text string) error
	Delete(ctx context.Context, path string) error
}

// Manager guards one log file.
type Manager struct {
	fs      FileSystem
	path    string
	timeout time.Duration
	logger  *slog.Logger
}

// SentinelPath returns the lock sentinel path for logPath.
func SentinelPath(logPath string) string { return logPath + ".lock" }

// New creates a Manager for the log at logPath.
func New(fsys FileSystem, logPath string, timeout time.Duration, logger *slog.Logger) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		fs:      fsys,
		path:    SentinelPath(logPath),
		timeout: timeout,
		logger:  logger,
	}
}

// Path returns the sentinel path.
func (m *Manager) Path() string { return m.path }

// Timeout returns the configured acquisition timeout.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Acquire blocks until the sentinel is created by this caller, reclaiming a
// stale sentinel without waiting. It fails with domain.ErrLockTimeout once the
// timeout has elapsed, or with the context error if ctx ends first.
func (m *Manager) Acquire(ctx context.Context) error {
	start := timeNow()
	for attempt := 0; ; {
		created, err := m.tryCreate(ctx)
		if err != nil {
			return fmt.Errorf("create lock sentinel: %w", err)
		}
		if created {
			m.logger.Debug("lock acquired", "path", m.path, "attempts", attempt+1)
			return nil
		}

		cleared, err := m.clearIfStale(ctx)
		if err != nil {
			return err
		}
		if cleared {
			continue
		}

		elapsed := timeNow().Sub(start)
		if elapsed > m.timeout {
			return domain.NewDomainError("lock.Acquire", domain.ErrLockTimeout,
				fmt.Sprintf("%s still held after %s", m.path, elapsed.Round(time.Millisecond)))
		}
		if err := sleep(ctx, backoff(attempt)+jitter()); err != nil {
			return err
		}
		attempt++
	}
}

// Release deletes the sentinel. A missing sentinel is not an error.
func (m *Manager) Release(ctx context.Context) error {
	if err := m.fs.Delete(ctx, m.path); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	m.logger.Debug("lock released", "path", m.path)
	return nil
}

// IsLocked reports whether a live sentinel exists. A stale or unreadable
// sentinel is cleared as a side effect and reported as unlocked.
func (m *Manager) IsLocked(ctx context.Context) (bool, error) {
	exists, err := m.fs.Exists(ctx, m.path)
	if err != nil || !exists {
		return false, err
	}
	cleared, err := m.clearIfStale(ctx)
	if err != nil {
		return false, err
	}
	return !cleared, nil
}

// WithLock runs fn while holding the lock. Release failures are logged, not
// returned: fn's work has already happened.
func (m *Manager) WithLock(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := m.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		if err := m.Release(context.WithoutCancel(ctx)); err != nil {
			m.logger.Warn("lock release failed", "path", m.path, "error", err)
		}
	}()
	return fn(ctx)
}

func (m *Manager) tryCreate(ctx context.Context) (bool, error) {
	epoch := strconv.FormatInt(timeNow().UnixMilli(), 10)
	if ec, ok := m.fs.(domain.ExclusiveCreator); ok {
		return ec.CreateExclusive(ctx, m.path, epoch)
	}

	exists, err := m.fs.Exists(ctx, m.path)
	if err != nil || exists {
		return false, err
	}
	if err := m.fs.Write(ctx, m.path, epoch); err != nil {
		return false, err
	}
	return true, nil
}

// clearIfStale deletes the sentinel when its epoch is unparseable or older than
// twice the timeout. It also reports true when the sentinel vanished between
// checks, so the caller retries creation immediately.
func (m *Manager) clearIfStale(ctx context.Context) (bool, error) {
	text, err := m.fs.Read(ctx, m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read lock sentinel: %w", err)
	}

	epoch, perr := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if perr != nil {
		m.logger.Debug("clearing invalid lock sentinel", "path", m.path, "content", text)
		return true, m.delete(ctx)
	}

	age := timeNow().UnixMilli() - epoch
	if age <= 2*m.timeout.Milliseconds() {
		return false, nil
	}
	m.logger.Debug("reclaiming stale lock", "path", m.path, "age_ms", age)
	return true, m.delete(ctx)
}

func (m *Manager) delete(ctx context.Context) error {
	if err := m.fs.Delete(ctx, m.path); err != nil {
		return fmt.Errorf("clear lock sentinel: %w", err)
	}
	return nil
}

func backoff(attempt int) time.Duration {
	d := baseBackoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
