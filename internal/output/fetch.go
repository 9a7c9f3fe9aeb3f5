package output

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/kektech/kektech/internal/core"
)

// FormatFetchResult renders the outcome of a retried fetch. Table and
// markdown output show a summary followed by the indented payload.
func FormatFetchResult(format Format, url string, result core.FetchResult) (string, error) {
	if rendered, ok, err := encode(format, result); ok {
		return rendered, err
	}

	status := string(result.Status)
	detail := result.Error
	if detail == "" {
		detail = "-"
	}

	var sb strings.Builder
	if format == FormatMarkdown {
		sb.WriteString("| URL | Status | Attempts | HTTP | Elapsed | Error |\n")
		sb.WriteString("|-----|--------|----------|------|---------|-------|\n")
		sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s | %s |\n",
			escapeMarkdownCell(url), status, result.Attempts, result.StatusCode,
			result.Elapsed, escapeMarkdownCell(detail)))
	} else {
		t := table.NewWriter()
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"URL", "Status", "Attempts", "HTTP", "Elapsed", "Error"})
		t.AppendRow(table.Row{url, status, result.Attempts, result.StatusCode, result.Elapsed, detail})
		sb.WriteString(t.Render())
		sb.WriteString("\n")
	}

	if len(result.Payload) > 0 {
		var pretty strings.Builder
		var v any
		if err := json.Unmarshal(result.Payload, &v); err == nil {
			data, _ := json.MarshalIndent(v, "", "  ")
			pretty.Write(data)
		} else {
			pretty.Write(result.Payload)
		}
		if format == FormatMarkdown {
			sb.WriteString("\n```json\n" + pretty.String() + "\n```\n")
		} else {
			sb.WriteString("\n" + pretty.String() + "\n")
		}
	}

	return sb.String(), nil
}
