package output

import (
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kektech/kektech/internal/core"
)

// QuotaRow is one quota window as shown by `quota list`.
type QuotaRow struct {
	Key       string `json:"key" yaml:"key"`
	Count     int64  `json:"count" yaml:"count"`
	ResetAt   string `json:"reset_at" yaml:"reset_at"`
	ExpiresIn string `json:"expires_in" yaml:"expires_in"`
	Expired   bool   `json:"expired" yaml:"expired"`
}

// QuotaRows converts windows to display rows relative to now.
func QuotaRows(windows []core.QuotaWindow, now time.Time) []QuotaRow {
	rows := make([]QuotaRow, 0, len(windows))
	for _, w := range windows {
		row := QuotaRow{
			Key:     w.Key,
			Count:   w.Count,
			ResetAt: w.ResetAt.UTC().Format(time.RFC3339),
			Expired: w.Expired(now),
		}
		if row.Expired {
			row.ExpiresIn = "-"
		} else {
			row.ExpiresIn = w.ResetAt.Sub(now).Round(time.Second).String()
		}
		rows = append(rows, row)
	}
	return rows
}

// FormatQuotaWindows renders quota windows in the requested format.
func FormatQuotaWindows(format Format, backend string, windows []core.QuotaWindow, now time.Time) (string, error) {
	rows := QuotaRows(windows, now)

	if rendered, ok, err := encode(format, rows); ok {
		return rendered, err
	}

	if format == FormatMarkdown {
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("## Quota windows (%s)\n\n", escapeMarkdownCell(backend)))
		sb.WriteString("| Key | Count | Reset | Expires in |\n")
		sb.WriteString("|-----|-------|-------|------------|\n")
		for _, row := range rows {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s |\n",
				escapeMarkdownCell(row.Key), row.Count, row.ResetAt, row.ExpiresIn))
		}
		return sb.String(), nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetTitle("Quota windows (" + backend + ")")
	t.AppendHeader(table.Row{"Key", "Count", "Reset", "Expires In"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.Key, row.Count, row.ResetAt, row.ExpiresIn})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(rows)})
	return t.Render(), nil
}

// ResetResult reports the outcome of `quota reset`.
type ResetResult struct {
	Backend string `json:"backend" yaml:"backend"`
	Matched int64  `json:"matched" yaml:"matched"`
	Deleted int64  `json:"deleted" yaml:"deleted"`
	DryRun  bool   `json:"dry_run" yaml:"dry_run"`
}

// FormatResetResult renders a reset outcome in the requested format.
func FormatResetResult(format Format, result ResetResult) (string, error) {
	if rendered, ok, err := encode(format, result); ok {
		return rendered, err
	}
	if result.DryRun {
		return fmt.Sprintf("Would delete %d quota window(s) from %s", result.Matched, result.Backend), nil
	}
	return fmt.Sprintf("Deleted %d/%d quota window(s) from %s", result.Deleted, result.Matched, result.Backend), nil
}
