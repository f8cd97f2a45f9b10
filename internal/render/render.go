// Package render formats store query results for the terminal.
package render

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"tracedb/internal/rollup"
)

// Unknown stands for a time that cannot be computed.
const Unknown = "?"

// FormatNanos prints a duration in nanoseconds, or Unknown for nil.
func FormatNanos(v *int64) string {
	if v == nil {
		return Unknown
	}
	return strconv.FormatInt(*v, 10)
}

// Table renders rows under a single header row.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...)
	for _, r := range rows {
		t.Row(r...)
	}
	return t.Render()
}

// SummaryTable renders ranked method rollups in the column order of the
// method_summary view.
func SummaryTable(rows []rollup.MethodSummary) string {
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{r.Method, FormatNanos(r.TotalTime), FormatNanos(r.TotalOwnTime), strconv.FormatInt(r.CallCount, 10)}
	}
	return Table([]string{"method", "total_time", "total_own_time", "call_count"}, cells)
}

// TreeLine renders one call of an indented call forest.
func TreeLine(depth int, c *rollup.AugmentedCall) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString("#")
	sb.WriteString(strconv.FormatInt(int64(c.ID), 10))
	sb.WriteString(" ")
	sb.WriteString(c.Method)
	sb.WriteString("(")
	sb.WriteString(c.Input)
	sb.WriteString(")")
	if c.Outcome != nil {
		sb.WriteString(" -> ")
		sb.WriteString(*c.Outcome)
	} else {
		sb.WriteString(" [open]")
	}
	sb.WriteString("  time=")
	sb.WriteString(FormatNanos(c.Time))
	sb.WriteString(" own=")
	sb.WriteString(FormatNanos(c.OwnTime))
	if c.TraceID != "" {
		sb.WriteString(" trace=")
		sb.WriteString(c.TraceID)
	}
	return sb.String()
}
