package main

import (
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"memlog/internal/adapter/export"
	"memlog/internal/adapter/fsio"
	"memlog/internal/domain"
	"memlog/internal/infra/config"
	"memlog/internal/usecase/memlog"
	"memlog/internal/validate"
)

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "memlog",
		Short:         "Shared, append-only memory log for local apps",
		Long:          "memlog reads and writes a JSONL memory log that independent processes share through an advisory lock file.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usagef("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", defaultConfigPath(), "config file")
	pf.StringVar(&a.flags.appID, "app", "", "reverse-domain app identity written as entry source")
	pf.StringVar(&a.flags.path, "path", "", "log file path")
	pf.DurationVar(&a.flags.lockTimeout, "lock-timeout", 0, "how long to wait for the lock")
	pf.BoolVar(&a.flags.debug, "debug", false, "debug logging")
	pf.BoolVar(&a.flags.json, "json", false, "machine-readable JSON output")
	pf.BoolVarP(&a.flags.yes, "yes", "y", false, "answer yes to prompts")

	root.AddCommand(
		newInitCmd(a),
		newWriteCmd(a),
		newReadCmd(a),
		newSearchCmd(a),
		newSemanticCmd(a),
		newUpdateCmd(a),
		newDeleteCmd(a),
		newStatsCmd(a),
		newExportCmd(a),
		newClearCmd(a),
		newLockStatusCmd(a),
		newSchemaCmd(a),
		newConsentCmd(a),
		newEncryptCmd(a),
		newDoctorCmd(a),
	)
	return root
}

// nArgs is cobra.ExactArgs reporting a usage error.
func nArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usagef("%s: expected %d argument(s), got %d", cmd.Name(), n, len(args))
		}
		return nil
	}
}

func minArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < n {
			return usagef("%s: expected at least %d argument(s)", cmd.Name(), n)
		}
		return nil
	}
}

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the log file and clear abandoned locks",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(map[string]string{"path": store.Path(), "lock": store.LockPath(), "app": store.AppID()})
			}
			r.ok("memory log ready at %s", store.Path())
			r.println(r.muted.Render("lock file: " + store.LockPath()))
			return nil
		},
	}
}

// entryFlags are shared by write and update.
type entryFlags struct {
	typ       string
	tags      []string
	meta      string
	embedding string
	timestamp string
}

func (f *entryFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.typ, "type", "", "entry type")
	fl.StringSliceVar(&f.tags, "tag", nil, "tag (repeatable or comma-separated)")
	fl.StringVar(&f.meta, "meta", "", "JSON object of extra fields")
	fl.StringVar(&f.embedding, "embedding", "", "JSON array of numbers")
}

func (f *entryFlags) parseMeta() (domain.JSONObject, error) {
	if f.meta == "" {
		return nil, nil
	}
	var meta domain.JSONObject
	if err := json.Unmarshal([]byte(f.meta), &meta); err != nil || meta == nil {
		return nil, domain.NewValidationError("meta", f.meta, "must be a JSON object")
	}
	return meta, nil
}

func (f *entryFlags) parseEmbedding() ([]float64, error) {
	if f.embedding == "" {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal([]byte(f.embedding), &vec); err != nil {
		return nil, domain.NewValidationError("embedding", f.embedding, "must be a JSON array of numbers")
	}
	return vec, nil
}

func newWriteCmd(a *app) *cobra.Command {
	var f entryFlags
	cmd := &cobra.Command{
		Use:   "write <content...>",
		Short: "Append a new entry",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			meta, err := f.parseMeta()
			if err != nil {
				return err
			}
			vec, err := f.parseEmbedding()
			if err != nil {
				return err
			}
			in := memlog.WriteInput{
				Content:   strings.Join(args, " "),
				Type:      f.typ,
				Tags:      f.tags,
				Meta:      meta,
				Embedding: vec,
			}
			if f.timestamp != "" {
				ts, err := parseTime(f.timestamp, time.Now())
				if err != nil {
					return err
				}
				in.Timestamp = &ts
			}

			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			entry, err := store.Write(cmd.Context(), in)
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(entry)
			}
			r.ok("wrote %s", entry.ID)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&f.timestamp, "timestamp", "", "entry time: epoch ms or RFC3339 (default now)")
	return cmd
}

// filterFlags are shared by read, search and semantic.
type filterFlags struct {
	since, until string
	typ, source  string
	tags         []string
	limit        int
	latest       bool
}

func (f *filterFlags) register(cmd *cobra.Command, withLimit bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.since, "since", "", "only entries at or after: epoch ms, RFC3339 or a duration ago (24h)")
	fl.StringVar(&f.until, "until", "", "only entries at or before: epoch ms, RFC3339 or a duration ago")
	fl.StringVar(&f.typ, "type", "", "only entries of this type")
	fl.StringVar(&f.source, "source", "", "only entries from this app")
	fl.StringSliceVar(&f.tags, "tag", nil, "only entries carrying any of these tags")
	fl.BoolVar(&f.latest, "latest", false, "show only the newest revision of each id")
	if withLimit {
		fl.IntVar(&f.limit, "limit", 0, "maximum number of entries (0 = all)")
	}
}

func (f *filterFlags) filter(now time.Time) (memlog.Filter, error) {
	out := memlog.Filter{Type: f.typ, Source: f.source, Tags: f.tags, Limit: f.limit}
	if f.limit < 0 {
		return out, usagef("--limit must be >= 0")
	}
	if f.since != "" {
		ts, err := parseTime(f.since, now)
		if err != nil {
			return out, err
		}
		out.Since = &ts
	}
	if f.until != "" {
		ts, err := parseTime(f.until, now)
		if err != nil {
			return out, err
		}
		out.Until = &ts
	}
	return out, nil
}

// parseTime accepts epoch milliseconds, RFC3339, or a duration meaning that
// long before now.
func parseTime(s string, now time.Time) (int64, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).UnixMilli(), nil
	}
	return 0, usagef("invalid time %q: want epoch ms, RFC3339 or a duration", s)
}

func newReadCmd(a *app) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "read",
		Short: "List entries, newest first",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := f.filter(time.Now())
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			var entries []domain.MemoryEntry
			if f.latest {
				// Latest must see every revision before the limit applies.
				limit := filter.Limit
				filter.Limit = 0
				if entries, err = store.Read(cmd.Context(), filter); err != nil {
					return err
				}
				entries = memlog.Latest(entries)
				if limit > 0 && len(entries) > limit {
					entries = entries[:limit]
				}
			} else if entries, err = store.Read(cmd.Context(), filter); err != nil {
				return err
			}
			return a.showEntries(cmd, entries)
		},
	}
	f.register(cmd, true)
	return cmd
}

func newSearchCmd(a *app) *cobra.Command {
	var f filterFlags
	cmd := &cobra.Command{
		Use:   "search <keyword...>",
		Short: "Find entries whose content contains a keyword (case-insensitive)",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter(time.Now())
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			entries, err := store.Search(cmd.Context(), strings.Join(args, " "), filter)
			if err != nil {
				return err
			}
			if f.latest {
				entries = memlog.Latest(entries)
			}
			return a.showEntries(cmd, entries)
		},
	}
	f.register(cmd, true)
	return cmd
}

func (a *app) showEntries(cmd *cobra.Command, entries []domain.MemoryEntry) error {
	r := newRenderer(cmd.OutOrStdout())
	if a.flags.json {
		return r.json(entries)
	}
	r.entries(entries)
	return nil
}

func newSemanticCmd(a *app) *cobra.Command {
	var (
		f filterFlags
		k int
	)
	cmd := &cobra.Command{
		Use:   "semantic <query...>",
		Short: "Rank entries by embedding similarity to a query",
		Args:  minArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := f.filter(time.Now())
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			results, err := store.SemanticSearch(cmd.Context(), strings.Join(args, " "), k, filter)
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(results)
			}
			r.scored(results)
			return nil
		},
	}
	f.register(cmd, false)
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		f       entryFlags
		content string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Append a revision of an entry",
		Args:  nArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch memlog.Changes
			fl := cmd.Flags()
			if fl.Changed("content") {
				ch.Content = &content
			}
			if fl.Changed("type") {
				ch.Type = &f.typ
			}
			if fl.Changed("tag") {
				ch.Tags = f.tags
				if ch.Tags == nil {
					ch.Tags = []string{}
				}
			}
			var err error
			if ch.Meta, err = f.parseMeta(); err != nil {
				return err
			}
			if ch.Embedding, err = f.parseEmbedding(); err != nil {
				return err
			}
			if ch.Content == nil && ch.Type == nil && ch.Tags == nil && ch.Meta == nil && ch.Embedding == nil {
				return usagef("update: nothing to change; pass --content, --type, --tag, --meta or --embedding")
			}

			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			entry, err := store.Update(cmd.Context(), args[0], ch)
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(entry)
			}
			r.ok("updated %s", entry.ID)
			r.entry(entry)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVar(&content, "content", "", "new content")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove every revision of an entry",
		Args:  nArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			removed, err := store.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(map[string]any{"id": args[0], "removed": removed})
			}
			r.ok("deleted %s (%d line(s))", args[0], removed)
			return nil
		},
	}
}

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the log",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(stats)
			}
			r.stats(stats)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var out, sqlitePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole log as JSON or into a SQLite snapshot",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out != "" && sqlitePath != "" {
				return usagef("export: --out and --sqlite are mutually exclusive")
			}
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			r := newRenderer(cmd.OutOrStdout())

			switch {
			case sqlitePath != "":
				sink, err := export.NewSQLite(sqlitePath, a.logger)
				if err != nil {
					return err
				}
				defer sink.Close()
				if err := store.ExportTo(ctx, sink); err != nil {
					return err
				}
				r.ok("exported to %s", sqlitePath)
			case out != "":
				if err := store.ExportTo(ctx, export.NewJSONFile(out)); err != nil {
					return err
				}
				r.ok("exported to %s", out)
			default:
				data, err := store.Export(ctx)
				if err != nil {
					return err
				}
				r.println(string(data))
			}
			dest := cmp.Or(sqlitePath, out, "stdout")
			a.auditEvent(ctx, domain.AuditEvent{
				Type:     domain.AuditMemoryExport,
				Resource: store.Path(),
				Detail:   map[string]string{"destination": dest},
			})
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write JSON to this file instead of stdout")
	cmd.Flags().StringVar(&sqlitePath, "sqlite", "", "write a SQLite snapshot to this database file")
	return cmd
}

func newClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the log",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			if !a.flags.yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(),
					fmt.Sprintf("Erase every entry in %s? This affects all apps sharing it.", store.Path()))
				if err != nil {
					return err
				}
				if !ok {
					return usagef("clear: aborted")
				}
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			newRenderer(cmd.OutOrStdout()).ok("cleared %s", store.Path())
			return nil
		},
	}
}

func newLockStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "lock-status",
		Short: "Report whether some process holds the log lock",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd)
			if err != nil {
				return err
			}
			locked, err := store.IsLocked(cmd.Context())
			if err != nil {
				return err
			}
			r := newRenderer(cmd.OutOrStdout())
			if a.flags.json {
				return r.json(map[string]any{"locked": locked, "lock": store.LockPath()})
			}
			if locked {
				r.println(r.warning.Render("locked") + " " + store.LockPath())
			} else {
				r.println(r.success.Render("unlocked") + " " + store.LockPath())
			}
			return nil
		},
	}
}

func newSchemaCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of a log entry",
		Args:  nArgs(0),
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := cmd.OutOrStdout().Write(validate.Schema())
			return err
		},
	}
}

func newConsentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "consent <grant|revoke|status>",
		Short: "Manage this app's recorded access consent",
		Args:  nArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}
			sc := a.cfg.Store
			if sc.ConsentFile == "" {
				return usagef("consent: store.consent_file is not configured")
			}
			gate := fsio.NewConsentGate(cmd.Context(), fsio.NewOS(), sc.ConsentFile, sc.AppID, nil)
			r := newRenderer(cmd.OutOrStdout())

			switch args[0] {
			case "grant":
				if err := gate.Grant(cmd.Context()); err != nil {
					return err
				}
				a.auditEvent(cmd.Context(), domain.AuditEvent{Type: domain.AuditConsentGiven, Resource: sc.ConsentFile})
				r.ok("access granted to %s", sc.AppID)
			case "revoke":
				if err := gate.Revoke(cmd.Context()); err != nil {
					return err
				}
				a.auditEvent(cmd.Context(), domain.AuditEvent{Type: domain.AuditConsentRevoke, Resource: sc.ConsentFile})
				r.ok("access revoked for %s", sc.AppID)
			case "status":
				state := gate.Consent()
				if a.flags.json {
					return r.json(state)
				}
				if state.Granted {
					r.println(r.success.Render("granted") + fmt.Sprintf(" to %s at %s", state.GrantedTo, state.GrantedAt))
				} else {
					r.println(r.warning.Render("not granted"))
				}
			default:
				return usagef("consent: unknown action %q (want grant, revoke or status)", args[0])
			}
			return nil
		},
	}
}

func newEncryptCmd(*app) *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <secret>",
		Short: "Encrypt a config secret with MEMLOG_CONFIG_KEY",
		Args:  nArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("MEMLOG_CONFIG_KEY")
			if key == "" {
				return usagef("encrypt: MEMLOG_CONFIG_KEY is not set")
			}
			enc, err := config.EncryptValue(args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), enc)
			return nil
		},
	}
}
