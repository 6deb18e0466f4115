package findings

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/types"
)

// SkipReason says why a file produced no findings.
type SkipReason string

const (
	ReasonParse     SkipReason = "parse_error"
	ReasonIO        SkipReason = "io_error"
	ReasonCancelled SkipReason = "cancelled"
)

// Skipped is a partial failure: the file was selected but not analyzed.
type Skipped struct {
	Path   string     `json:"path"`
	Reason SkipReason `json:"reason"`
	Error  string     `json:"error,omitempty"`
}

type Summary struct {
	BySeverity map[types.Severity]int `json:"by_severity"`
	ByCategory map[types.Category]int `json:"by_category"`
	Total      int                    `json:"total"`
}

// Report is the aggregated outcome of one session.
type Report struct {
	SessionID    string          `json:"session_id,omitempty"`
	Findings     []types.Finding `json:"findings"`
	Summary      Summary         `json:"summary"`
	Skipped      []Skipped       `json:"skipped"`
	FilesScanned int             `json:"files_scanned"`
	DurationMS   int64           `json:"duration_ms"`
}

type key struct {
	rule string
	path string
	line int
}

// Aggregator is safe for concurrent use. Insertion order carries no meaning;
// Report sorts.
type Aggregator struct {
	mu       sync.Mutex
	index    map[key]int
	findings []types.Finding
	skipped  map[string]Skipped
	scanned  int
}

func New() *Aggregator {
	return &Aggregator{index: map[key]int{}, skipped: map[string]Skipped{}}
}

// Add appends findings, keeping one per (rule, path, line). On collision the
// more severe finding wins.
func (a *Aggregator) Add(fs ...types.Finding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, f := range fs {
		k := key{f.RuleID, f.Path, f.Line}
		if i, ok := a.index[k]; ok {
			if f.Severity.Rank() > a.findings[i].Severity.Rank() {
				a.findings[i] = f
			}
			continue
		}
		a.index[k] = len(a.findings)
		a.findings = append(a.findings, f)
	}
}

// Scanned counts one file that completed analysis.
func (a *Aggregator) Scanned() {
	a.mu.Lock()
	a.scanned++
	a.mu.Unlock()
}

// Skip records a file that could not be analyzed. A later call for the same
// path replaces the earlier one.
func (a *Aggregator) Skip(path string, reason SkipReason, err error) {
	s := Skipped{Path: path, Reason: reason}
	if err != nil {
		s.Error = err.Error()
	}
	a.mu.Lock()
	a.skipped[path] = s
	a.mu.Unlock()
}

// Report returns a sorted snapshot. The aggregator stays usable.
func (a *Aggregator) Report() Report {
	a.mu.Lock()
	fs := append([]types.Finding(nil), a.findings...)
	skipped := make([]Skipped, 0, len(a.skipped))
	for _, s := range a.skipped {
		skipped = append(skipped, s)
	}
	scanned := a.scanned
	a.mu.Unlock()

	Sort(fs)
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Path < skipped[j].Path })
	if fs == nil {
		fs = []types.Finding{}
	}
	return Report{
		Findings:     fs,
		Summary:      Summarize(fs),
		Skipped:      skipped,
		FilesScanned: scanned,
	}
}

// Sort orders findings by path, line, column and rule id.
func Sort(fs []types.Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})
}

func Summarize(fs []types.Finding) Summary {
	s := Summary{BySeverity: map[types.Severity]int{}, ByCategory: map[types.Category]int{}}
	for _, f := range fs {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	s.Total = len(fs)
	return s
}

// ReasonFor maps a per-file error onto its skip reason.
func ReasonFor(err error) SkipReason {
	var pe *adapter.ParseError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ReasonCancelled
	case errors.As(err, &pe):
		return ReasonParse
	default:
		return ReasonIO
	}
}

// AtLeast returns the findings whose severity meets min.
func AtLeast(fs []types.Finding, min types.Severity) []types.Finding {
	var out []types.Finding
	for _, f := range fs {
		if f.Severity.AtLeast(min) {
			out = append(out, f)
		}
	}
	return out
}
