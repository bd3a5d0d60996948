package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memlog/internal/adapter/audit"
	"memlog/internal/adapter/embedding"
	"memlog/internal/adapter/fsio"
	"memlog/internal/domain"
	"memlog/internal/infra/config"
	"memlog/internal/infra/logger"
	"memlog/internal/infra/tracer"
	"memlog/internal/usecase/memlog"
)

// globalFlags are accepted by every subcommand and override the config file.
type globalFlags struct {
	config      string
	appID       string
	path        string
	lockTimeout time.Duration
	debug       bool
	json        bool
	yes         bool
}

// app carries the state one invocation builds lazily: config, logger and,
// for commands that touch the log, an initialized Store.
type app struct {
	flags globalFlags

	cfg     *config.Config
	logger  *slog.Logger
	store   *memlog.Store
	audit   *audit.FileLogger
	closers []func(context.Context) error
}

func defaultConfigPath() string {
	if p := os.Getenv("MEMLOG_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "memlog.yaml"
	}
	return filepath.Join(home, ".memlog", "config.yaml")
}

// loadConfig reads the config file and applies command-line overrides.
func (a *app) loadConfig(cmd *cobra.Command) error {
	if a.cfg != nil {
		return nil
	}
	cfg, err := config.Load(a.flags.config)
	if err != nil {
		return err
	}

	fl := cmd.Flags()
	if fl.Changed("app") {
		cfg.Store.AppID = a.flags.appID
	}
	if fl.Changed("path") {
		cfg.Store.Path = a.flags.path
	}
	if fl.Changed("lock-timeout") {
		cfg.Store.LockTimeout = a.flags.lockTimeout
	}
	if a.flags.debug {
		cfg.Store.Debug = true
		cfg.Logger.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}
	a.cfg = cfg

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}
	a.logger = log
	a.closers = append(a.closers, func(context.Context) error { return closeLog() })

	// Spans go to stderr so they never mix with command output.
	shutdown, err := tracer.Setup(cmd.Context(), cfg.Tracer, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("%w: tracer: %v", domain.ErrConfigLoad, err)
	}
	a.closers = append(a.closers, shutdown)
	return nil
}

// openStore builds and initializes the Store for this invocation.
func (a *app) openStore(cmd *cobra.Command) (*memlog.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if err := a.loadConfig(cmd); err != nil {
		return nil, err
	}
	cfg := a.cfg

	var fsys domain.FileSystem = fsio.NewOS()
	if cfg.Store.OverwriteOnly {
		fsys = fsio.NewOverwriteOnly(fsys)
	}
	if cfg.Store.ConsentFile != "" {
		fsys = fsio.NewConsentGate(cmd.Context(), fsys, cfg.Store.ConsentFile, cfg.Store.AppID, a.prompt(cmd))
	}

	sim, err := embedding.New(cfg.Embedding, a.logger)
	if err != nil {
		return nil, err
	}

	if err := a.openAudit(); err != nil {
		return nil, err
	}

	store, err := memlog.New(fsys, memlog.Options{
		AppID:                cfg.Store.AppID,
		Path:                 cfg.Store.Path,
		LockTimeout:          cfg.Store.LockTimeout,
		Debug:                cfg.Store.Debug,
		Similarity:           sim,
		AutoEmbed:            cfg.Embedding.AutoEmbed,
		DisableAtomicRewrite: !cfg.Store.AtomicRewrite,
		Logger:               a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Initialize(cmd.Context()); err != nil {
		return nil, err
	}
	if a.audit != nil {
		store.OnChange(audit.Listener(a.audit, cfg.Store.AppID, a.logger))
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return store, nil
}

// openAudit opens the audit trail when one is configured and trims it to the
// retention policy.
func (a *app) openAudit() error {
	ac := a.cfg.Audit
	if ac.File == "" || a.audit != nil {
		return nil
	}
	maxSize, err := audit.ParseSize(ac.MaxSize)
	if err != nil {
		return fmt.Errorf("%w: audit.max_size: %v", domain.ErrConfigLoad, err)
	}
	l, err := audit.NewFileLogger(ac.File)
	if err != nil {
		return err
	}
	l.SetRetention(audit.Retention{MaxAge: ac.MaxAge, MaxSize: maxSize})
	if removed, err := l.EnforceRetention(); err != nil {
		a.logger.Warn("audit retention failed", "path", ac.File, "error", err)
	} else if removed > 0 {
		a.logger.Debug("audit retention applied", "path", ac.File, "removed", removed)
	}
	a.audit = l
	a.closers = append(a.closers, func(context.Context) error { return l.Close() })
	return nil
}

// auditEvent records an action the store does not publish itself.
func (a *app) auditEvent(ctx context.Context, event domain.AuditEvent) {
	if err := a.openAudit(); err != nil {
		a.logger.Warn("audit trail unavailable", "error", err)
		return
	}
	if a.audit == nil {
		return
	}
	event.Actor = a.cfg.Store.AppID
	if event.Outcome == "" {
		event.Outcome = "success"
	}
	if err := a.audit.Log(ctx, event); err != nil {
		a.logger.Warn("audit write failed", "event", event.Type, "error", err)
	}
}

// prompt asks on the command's stdin. --yes grants without asking.
func (a *app) prompt(cmd *cobra.Command) fsio.PromptFunc {
	return func(_ context.Context, appID string) (bool, error) {
		if a.flags.yes {
			return true, nil
		}
		return confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
			fmt.Sprintf("Allow %s to read and write the shared memory log?", appID))
	}
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// close releases everything in reverse order of acquisition.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
