// Package audit keeps an append-only JSONL history of scan sessions.
package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/types"
)

const fileName = "taintline_audit.jsonl"

// Record summarizes one scan session. Snippets are not stored.
type Record struct {
	Timestamp      time.Time      `json:"timestamp"`
	SessionID      string         `json:"session_id"`
	Root           string         `json:"root"`
	Commit         string         `json:"commit,omitempty"`
	TotalFindings  int            `json:"total_findings"`
	NewFindings    int            `json:"new_findings"`
	BaselinedCount int            `json:"baselined_count"`
	SeverityCounts map[string]int `json:"severity_counts"`
	FilesScanned   int            `json:"files_scanned"`
	Skipped        int            `json:"skipped"`
	Duration       string         `json:"duration"`
	BaselineFile   string         `json:"baseline_file,omitempty"`
	Top            []Summary      `json:"top_findings,omitempty"`
}

type Summary struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
}

type Log struct {
	path string
}

// New returns the log for root. It lives under .git when root is a
// repository so it never shows up as a working tree change.
func New(root string) *Log {
	gitDir := filepath.Join(root, ".git")
	if st, err := os.Stat(gitDir); err == nil && st.IsDir() {
		return &Log{path: filepath.Join(gitDir, fileName)}
	}
	return &Log{path: filepath.Join(root, "."+fileName)}
}

func (l *Log) Path() string { return l.path }

// Append writes rec as one line. The file is owner-only.
func (l *Log) Append(rec Record) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(rec); err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	return nil
}

// History returns records newest first. A missing log is an empty history;
// malformed lines are skipped.
func (l *Log) History() ([]Record, error) {
	f, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var out []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// NewRecord builds a record from the full report and the findings left
// after the baseline was applied.
func NewRecord(root string, rep findings.Report, kept []types.Finding, baselineFile string) Record {
	counts := make(map[string]int)
	for _, f := range rep.Findings {
		counts[string(f.Severity)]++
	}
	top := make([]Summary, 0, 10)
	for i, f := range kept {
		if i == 10 {
			break
		}
		top = append(top, Summary{Path: f.Path, Line: f.Line, RuleID: f.RuleID, Severity: string(f.Severity)})
	}
	return Record{
		Timestamp:      time.Now().UTC(),
		SessionID:      rep.SessionID,
		Root:           root,
		TotalFindings:  len(rep.Findings),
		NewFindings:    len(kept),
		BaselinedCount: len(rep.Findings) - len(kept),
		SeverityCounts: counts,
		FilesScanned:   rep.FilesScanned,
		Skipped:        len(rep.Skipped),
		Duration:       (time.Duration(rep.DurationMS) * time.Millisecond).String(),
		BaselineFile:   baselineFile,
		Top:            top,
	}
}
