package audit

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/types"
)

func TestLog_AppendAndHistory(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	assert.Equal(t, filepath.Join(dir, ".taintline_audit.jsonl"), l.Path())

	hist, err := l.History()
	require.NoError(t, err)
	assert.Empty(t, hist)

	require.NoError(t, l.Append(Record{SessionID: "first"}))
	require.NoError(t, l.Append(Record{SessionID: "second"}))

	hist, err = l.History()
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "second", hist[0].SessionID)

	info, err := os.Stat(l.Path())
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestNew_PrefersGitDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	assert.Equal(t, filepath.Join(dir, ".git", "taintline_audit.jsonl"), New(dir).Path())
}

func TestNewRecord(t *testing.T) {
	all := []types.Finding{
		{RuleID: "sql-injection", Severity: types.SevCritical, Path: "a.php", Line: 4},
		{RuleID: "magic-number", Severity: types.SevLow, Path: "a.php", Line: 9},
	}
	rep := findings.Report{SessionID: "s", Findings: all, FilesScanned: 3, DurationMS: 1500,
		Skipped: []findings.Skipped{{Path: "b.php", Reason: findings.ReasonParse}}}

	rec := NewRecord("/repo", rep, all[:1], "taintline.baseline.json")
	assert.Equal(t, 2, rec.TotalFindings)
	assert.Equal(t, 1, rec.NewFindings)
	assert.Equal(t, 1, rec.BaselinedCount)
	assert.Equal(t, 1, rec.Skipped)
	assert.Equal(t, "1.5s", rec.Duration)
	assert.Equal(t, map[string]int{"critical": 1, "low": 1}, rec.SeverityCounts)
	require.Len(t, rec.Top, 1)
	assert.Equal(t, "sql-injection", rec.Top[0].RuleID)
}
