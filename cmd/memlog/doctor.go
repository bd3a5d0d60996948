package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memlog/internal/adapter/embedding"
	"memlog/internal/validate"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Fix     string      `json:"fix,omitempty"`
}

type check struct {
	name string
	fn   func(ctx context.Context, cmd *cobra.Command, a *app) CheckResult
}

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, log access, lock state and the embedding backend",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, a)
		},
	}
}

func runDoctor(cmd *cobra.Command, a *app) error {
	checks := []check{
		{"Config", checkConfig},
		{"Schema", checkSchema},
		{"Log file", checkLogFile},
		{"Lock", checkLock},
		{"Embedding", checkEmbedding},
	}

	ctx := cmd.Context()
	results := make([]CheckResult, 0, len(checks))
	var fail, warn int
	for _, c := range checks {
		res := c.fn(ctx, cmd, a)
		res.Name = c.name
		results = append(results, res)
		switch res.Status {
		case StatusFail:
			fail++
		case StatusWarn:
			warn++
		}
	}

	r := newRenderer(cmd.OutOrStdout())
	if a.flags.json {
		if err := r.json(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			r.println(fmt.Sprintf("  %s %s: %s", r.statusIcon(res.Status), res.Name, res.Message))
			if res.Fix != "" {
				r.println(r.muted.Render("      Fix: " + res.Fix))
			}
		}
		r.println(strings.Repeat("-", 50))
		r.println(fmt.Sprintf("Results: %d passed, %d warnings, %d failed", len(results)-fail-warn, warn, fail))
	}
	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func (r *renderer) statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return r.success.Render("[PASS]")
	case StatusWarn:
		return r.warning.Render("[WARN]")
	default:
		return r.failure.Render("[FAIL]")
	}
}

func checkConfig(_ context.Context, cmd *cobra.Command, a *app) CheckResult {
	if err := a.loadConfig(cmd); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "edit " + a.flags.config}
	}
	if _, err := os.Stat(a.flags.config); errors.Is(err, os.ErrNotExist) {
		return CheckResult{Status: StatusPass, Message: "no config file, using defaults"}
	}
	return CheckResult{Status: StatusPass, Message: a.flags.config}
}

func checkSchema(context.Context, *cobra.Command, *app) CheckResult {
	if err := validate.SchemaError(); err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	return CheckResult{Status: StatusPass, Message: "entry schema compiles"}
}

func checkLogFile(_ context.Context, cmd *cobra.Command, a *app) CheckResult {
	if a.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "skipped: config not loaded"}
	}
	store, err := a.openStore(cmd)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "check permissions on " + a.cfg.Store.Path}
	}
	return CheckResult{Status: StatusPass, Message: store.Path()}
}

func checkLock(ctx context.Context, _ *cobra.Command, a *app) CheckResult {
	if a.store == nil {
		return CheckResult{Status: StatusFail, Message: "skipped: log not available"}
	}
	locked, err := a.store.IsLocked(ctx)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}
	if locked {
		return CheckResult{
			Status:  StatusWarn,
			Message: "held by another process: " + a.store.LockPath(),
			Fix:     "wait for the holder; a lock older than twice the lock timeout is reclaimed automatically",
		}
	}
	return CheckResult{Status: StatusPass, Message: "free"}
}

func checkEmbedding(ctx context.Context, _ *cobra.Command, a *app) CheckResult {
	if a.cfg == nil {
		return CheckResult{Status: StatusFail, Message: "skipped: config not loaded"}
	}
	ec := a.cfg.Embedding
	if ec.Provider == "" {
		return CheckResult{Status: StatusWarn, Message: "not configured; semantic search is disabled", Fix: "set embedding.provider"}
	}
	sim, err := embedding.New(ec, a.logger)
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	vecs, err := sim.Embed(ctx, []string{"memlog doctor"})
	if err != nil {
		return CheckResult{Status: StatusFail, Message: err.Error(), Fix: "check embedding.base_url and that the backend is running"}
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return CheckResult{Status: StatusFail, Message: "backend returned no vector"}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s, %d dims", sim.Name(), len(vecs[0]))}
}
