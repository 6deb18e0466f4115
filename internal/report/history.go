package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/taintline/taintline/internal/audit"
	"github.com/taintline/taintline/internal/types"
)

// PrintHistory lists recorded scans, newest first.
func PrintHistory(w io.Writer, recs []audit.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No scans recorded")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("When", "Commit", "Files", "Findings", "New", "Critical", "High", "Duration")
	for _, r := range recs {
		commit := r.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		_ = table.Append([]string{
			r.Timestamp.Local().Format("2006-01-02 15:04"),
			commit,
			strconv.Itoa(r.FilesScanned),
			strconv.Itoa(r.TotalFindings),
			strconv.Itoa(r.NewFindings),
			strconv.Itoa(r.SeverityCounts[string(types.SevCritical)]),
			strconv.Itoa(r.SeverityCounts[string(types.SevHigh)]),
			r.Duration,
		})
	}
	_ = table.Render()
}
