package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"

	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/types"
)

var (
	sevCriticalStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	sevHighStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	sevMedStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	sevLowStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

type PrintOptions struct {
	NoColor bool
	// Verbose adds the remediation text under each finding.
	Verbose bool
}

func severityText(s types.Severity, noColor bool) string {
	if noColor {
		return string(s)
	}
	switch s {
	case types.SevCritical:
		return sevCriticalStyle.Render(string(s))
	case types.SevHigh:
		return sevHighStyle.Render(string(s))
	case types.SevMedium:
		return sevMedStyle.Render(string(s))
	default:
		return sevLowStyle.Render(string(s))
	}
}

// PrintText renders a report as a table followed by a summary footer.
func PrintText(w io.Writer, rep findings.Report, opts PrintOptions) {
	if len(rep.Findings) == 0 {
		msg := "No findings"
		if !opts.NoColor {
			msg = okStyle.Render(msg)
		}
		fmt.Fprintln(w, msg)
	} else {
		table := tablewriter.NewWriter(w)
		table.Header("Severity", "Rule", "Location", "Function", "Message")
		for _, f := range rep.Findings {
			_ = table.Append([]string{severityText(f.Severity, opts.NoColor), f.RuleID, f.Location(), f.Function, f.Message})
		}
		_ = table.Render()
		if opts.Verbose {
			for _, f := range rep.Findings {
				if f.Remediation == nil {
					continue
				}
				fmt.Fprintf(w, "\n%s %s\n  fix: %s\n", f.Location(), f.RuleID, f.Remediation.Description)
			}
		}
	}
	printSummary(w, rep, opts)
}

func printSummary(w io.Writer, rep findings.Report, opts PrintOptions) {
	fmt.Fprintln(w)
	s := rep.Summary
	fmt.Fprintf(w, "Findings: %d (critical: %d, high: %d, medium: %d, low: %d)\n", s.Total,
		s.BySeverity[types.SevCritical], s.BySeverity[types.SevHigh], s.BySeverity[types.SevMedium], s.BySeverity[types.SevLow])
	if rep.DurationMS > 0 {
		fmt.Fprintf(w, "Scan duration: %.2fs\n", (time.Duration(rep.DurationMS) * time.Millisecond).Seconds())
	}
	fmt.Fprintf(w, "Files scanned: %d\n", rep.FilesScanned)
	if len(rep.Skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "Skipped: %d\n", len(rep.Skipped))
	for _, sk := range rep.Skipped {
		line := fmt.Sprintf("  %s (%s)", sk.Path, sk.Reason)
		if sk.Error != "" {
			line += ": " + sk.Error
		}
		if !opts.NoColor {
			line = dimStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}

// PrintRules lists a rule set, one row per rule.
func PrintRules(w io.Writer, all []*rules.Rule, opts PrintOptions) {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Category", "Severity", "Kind", "Languages", "Remediation")
	for _, r := range all {
		langs := "all"
		if len(r.Languages) > 0 {
			langs = strings.Join(r.Languages, ",")
		}
		_ = table.Append([]string{r.ID, string(r.Category), severityText(r.Severity, opts.NoColor), string(r.Kind), langs, r.RemediationID})
	}
	_ = table.Render()
	fmt.Fprintf(w, "%d rules\n", len(all))
}

// PrintDiff renders a before/after comparison.
func PrintDiff(w io.Writer, d findings.DiffResult, opts PrintOptions) {
	entries := d.Entries()
	if len(entries) == 0 {
		fmt.Fprintln(w, "No findings on either side")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Status", "Rule", "Path", "Function", "#", "Before", "After")
	for _, e := range entries {
		before, after := "-", "-"
		if e.Before != nil {
			before = strconv.Itoa(e.Before.Line)
		}
		if e.After != nil {
			after = strconv.Itoa(e.After.Line)
		}
		_ = table.Append([]string{classText(e.Class, opts.NoColor), e.Location.RuleID, e.Location.Path,
			e.Location.Function, strconv.Itoa(e.Location.Ordinal), before, after})
	}
	_ = table.Render()
	fmt.Fprintf(w, "\nVerified: %d, unresolved: %d, regressions: %d\n", len(d.Verified), len(d.Unresolved), len(d.Regressions))
}

func classText(c findings.Class, noColor bool) string {
	if noColor {
		return string(c)
	}
	switch c {
	case findings.VerifiedRemediation:
		return okStyle.Render(string(c))
	case findings.Regression:
		return sevHighStyle.Render(string(c))
	default:
		return sevMedStyle.Render(string(c))
	}
}
