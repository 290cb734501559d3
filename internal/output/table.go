package output

import (
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/piilens/piilens/internal/server/middleware"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

// FormatAnalysis renders detected entities as a table.
func (f *TableFormatter) FormatAnalysis(report *AnalysisReport) (string, error) {
	if report == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Type", "Text", "Range", "Score"})

	for _, e := range report.Entities {
		t.AppendRow(table.Row{
			e.EntityType,
			spanText(report.Text, e.Start, e.End),
			fmt.Sprintf("%d-%d", e.Start, e.End),
			fmt.Sprintf("%.2f", e.Score),
		})
	}

	t.AppendFooter(table.Row{
		"",
		"",
		"",
		fmt.Sprintf("%d entities", len(report.Entities)),
	})

	return t.Render(), nil
}

// FormatMetrics renders a metrics snapshot as a set of tables.
func (f *TableFormatter) FormatMetrics(snapshot *middleware.Snapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRow(table.Row{"Total requests", snapshot.TotalRequests})
	t.AppendRow(table.Row{"Requests in last minute", snapshot.RequestsInLastMinute})
	t.AppendRow(table.Row{"Average response time (s)", fmt.Sprintf("%.3f", snapshot.AverageResponseTime)})
	t.AppendRow(table.Row{"Error rate", fmt.Sprintf("%.3f", snapshot.ErrorRate)})
	rendered := t.Render()

	if len(snapshot.RequestsByPath) > 0 {
		paths := table.NewWriter()
		paths.SetStyle(table.StyleRounded)
		paths.AppendHeader(table.Row{"Path", "Requests"})
		for _, key := range sortedKeys(snapshot.RequestsByPath) {
			paths.AppendRow(table.Row{key, snapshot.RequestsByPath[key]})
		}
		rendered += "\n" + paths.Render()
	}

	if len(snapshot.ErrorCounts) > 0 {
		errs := table.NewWriter()
		errs.SetStyle(table.StyleRounded)
		errs.AppendHeader(table.Row{"Status", "Count"})
		for _, key := range sortedKeys(snapshot.ErrorCounts) {
			errs.AppendRow(table.Row{key, snapshot.ErrorCounts[key]})
		}
		rendered += "\n" + errs.Render()
	}

	if len(snapshot.SuspiciousRequests) > 0 {
		sus := table.NewWriter()
		sus.SetStyle(table.StyleRounded)
		sus.AppendHeader(table.Row{"Client", "Suspicious requests"})
		for _, key := range sortedKeys(snapshot.SuspiciousRequests) {
			sus.AppendRow(table.Row{key, snapshot.SuspiciousRequests[key]})
		}
		rendered += "\n" + sus.Render()
	}

	return rendered, nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
