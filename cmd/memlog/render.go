package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"memlog/internal/domain"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorWarning = lipgloss.AdaptiveColor{Light: "#e65100", Dark: "#ffa726"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}
	colorBorder  = lipgloss.AdaptiveColor{Light: "#bdbdbd", Dark: "#616161"}
)

const contentWidth = 60

// renderer styles output for one writer. Colors are dropped automatically
// when the writer is not a terminal or NO_COLOR is set.
type renderer struct {
	w io.Writer

	bold    lipgloss.Style
	muted   lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	border  lipgloss.Style
}

func newRenderer(w io.Writer) *renderer {
	lr := lipgloss.NewRenderer(w)
	return &renderer{
		w:       w,
		bold:    lr.NewStyle().Bold(true),
		muted:   lr.NewStyle().Foreground(colorMuted),
		info:    lr.NewStyle().Foreground(colorInfo),
		success: lr.NewStyle().Foreground(colorSuccess).Bold(true),
		warning: lr.NewStyle().Foreground(colorWarning).Bold(true),
		failure: lr.NewStyle().Foreground(colorError).Bold(true),
		border:  lr.NewStyle().Foreground(colorBorder),
	}
}

func (r *renderer) println(a ...any) { fmt.Fprintln(r.w, a...) }

func (r *renderer) ok(format string, args ...any) {
	r.println(r.success.Render("✓") + " " + fmt.Sprintf(format, args...))
}

func (r *renderer) errorLine(err error) string {
	return r.failure.Render("✗ "+string(domain.ErrorCodeOf(err))) + " " + err.Error()
}

func (r *renderer) json(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (r *renderer) entries(entries []domain.MemoryEntry) {
	if len(entries) == 0 {
		r.println(r.muted.Render("No entries."))
		return
	}
	t := r.table("ID", "TIME", "SOURCE", "TYPE", "TAGS", "CONTENT")
	for _, e := range entries {
		t.Row(shortID(e.ID), formatTime(e.Timestamp), e.Source, e.Type, strings.Join(e.Tags, ","), clip(e.Content))
	}
	r.println(t.String())
	r.println(r.muted.Render(fmt.Sprintf("%d entries", len(entries))))
}

func (r *renderer) scored(results []domain.ScoredEntry) {
	if len(results) == 0 {
		r.println(r.muted.Render("No entries with embeddings."))
		return
	}
	t := r.table("SCORE", "ID", "TIME", "CONTENT")
	for _, s := range results {
		t.Row(strconv.FormatFloat(s.Score, 'f', 4, 64), shortID(s.Entry.ID), formatTime(s.Entry.Timestamp), clip(s.Entry.Content))
	}
	r.println(t.String())
}

func (r *renderer) entry(e *domain.MemoryEntry) {
	rows := [][2]string{
		{"id", e.ID},
		{"version", e.Version},
		{"time", formatTime(e.Timestamp) + " (" + strconv.FormatInt(e.Timestamp, 10) + ")"},
		{"source", e.Source},
	}
	if e.Type != "" {
		rows = append(rows, [2]string{"type", e.Type})
	}
	if len(e.Tags) > 0 {
		rows = append(rows, [2]string{"tags", strings.Join(e.Tags, ", ")})
	}
	if len(e.Meta) > 0 {
		b, _ := json.Marshal(e.Meta)
		rows = append(rows, [2]string{"meta", string(b)})
	}
	if len(e.Embedding) > 0 {
		rows = append(rows, [2]string{"embedding", fmt.Sprintf("%d dims", len(e.Embedding))})
	}
	rows = append(rows, [2]string{"content", e.Content})
	for _, row := range rows {
		r.println(r.muted.Render(fmt.Sprintf("%-10s", row[0])) + row[1])
	}
}

func (r *renderer) stats(s domain.MemoryStats) {
	r.println(r.bold.Render("Entries: ") + strconv.Itoa(s.Count))
	r.println(r.bold.Render("Size:    ") + formatBytes(s.SizeBytes))
	if s.Count > 0 {
		r.println(r.bold.Render("Oldest:  ") + formatTime(s.Oldest))
		r.println(r.bold.Render("Newest:  ") + formatTime(s.Newest))
	}
	for _, group := range []struct {
		title  string
		counts map[string]int
	}{
		{"By source", s.BySource},
		{"By type", s.ByType},
		{"By tag", s.ByTag},
	} {
		if len(group.counts) == 0 {
			continue
		}
		r.println()
		r.println(r.info.Render(group.title))
		for _, k := range slices.Sorted(maps.Keys(group.counts)) {
			r.println(fmt.Sprintf("  %-32s %d", k, group.counts[k]))
		}
	}
}

func (r *renderer) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(r.border).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return r.bold.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > contentWidth {
		return string(r[:contentWidth-1]) + "…"
	}
	return s
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
