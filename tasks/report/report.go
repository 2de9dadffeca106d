// Package report renders a dagflow.WorkflowResult into an HTML execution
// report, using github.com/yuin/goldmark to turn a generated Markdown
// summary into HTML.
package report

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/flowforge/dagflow"
)

// Render builds a Markdown summary of result (run outcome, total steps,
// dynamic tasks generated, and a per-task table) and converts it to HTML.
func Render(result dagflow.WorkflowResult) (string, error) {
	var md strings.Builder

	status := "succeeded"
	if !result.Success {
		status = "failed"
	}
	fmt.Fprintf(&md, "# Run %s\n\n", result.RunID)
	fmt.Fprintf(&md, "Status: **%s**  \n", status)
	fmt.Fprintf(&md, "Duration: %dms  \n", result.ExecutionTimeMs)
	fmt.Fprintf(&md, "Total steps: %d  \n", result.TotalSteps)
	fmt.Fprintf(&md, "Dynamic tasks generated: %d\n\n", result.DynamicTasksGenerated)

	if result.Error != nil {
		fmt.Fprintf(&md, "Error: `%s`\n\n", result.Error.Error())
	}

	names := make([]string, 0, len(result.TaskResults))
	for name := range result.TaskResults {
		names = append(names, name)
	}
	sort.Strings(names)

	md.WriteString("| Task | Status | Duration (ms) | Error |\n")
	md.WriteString("|---|---|---|---|\n")
	for _, name := range names {
		tr := result.TaskResults[name]
		errText := tr.ErrorMessage
		if errText == "" {
			errText = "-"
		}
		fmt.Fprintf(&md, "| %s | %s | %d | %s |\n", name, tr.Status, tr.DurationMs, errText)
	}

	var html bytes.Buffer
	if err := goldmark.New(goldmark.WithExtensions(extension.Table)).Convert([]byte(md.String()), &html); err != nil {
		return "", fmt.Errorf("report: render markdown: %w", err)
	}
	return html.String(), nil
}
