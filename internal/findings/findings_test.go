package findings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/types"
)

func fd(path string, line int, rule string, sev types.Severity) types.Finding {
	return types.Finding{RuleID: rule, Path: path, Line: line, Severity: sev, Category: types.CatSQLInjection}
}

func TestAggregatorDedupesAndSorts(t *testing.T) {
	a := New()
	a.Add(fd("b.php", 3, "sql-injection", types.SevHigh))
	a.Add(fd("a.php", 9, "select-star", types.SevMedium), fd("a.php", 2, "sql-injection", types.SevCritical))
	a.Add(fd("b.php", 3, "sql-injection", types.SevCritical))
	a.Add(fd("b.php", 3, "sql-injection", types.SevLow))

	r := a.Report()
	require.Len(t, r.Findings, 3)
	assert.Equal(t, "a.php", r.Findings[0].Path)
	assert.Equal(t, 2, r.Findings[0].Line)
	assert.Equal(t, 9, r.Findings[1].Line)
	assert.Equal(t, types.SevCritical, r.Findings[2].Severity)

	assert.Equal(t, 3, r.Summary.Total)
	assert.Equal(t, 2, r.Summary.BySeverity[types.SevCritical])
	assert.Equal(t, 1, r.Summary.BySeverity[types.SevMedium])
	assert.Equal(t, 3, r.Summary.ByCategory[types.CatSQLInjection])
}

func TestAggregatorConcurrentAdd(t *testing.T) {
	a := New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				a.Add(fd(fmt.Sprintf("f%d.php", w), i+1, "sql-injection", types.SevHigh))
			}
			a.Scanned()
		}(w)
	}
	wg.Wait()
	r := a.Report()
	assert.Len(t, r.Findings, 400)
	assert.Equal(t, 8, r.FilesScanned)
	assert.Equal(t, "f0.php", r.Findings[0].Path)
}

func TestSkip(t *testing.T) {
	a := New()
	a.Skip("z.php", ReasonIO, os.ErrPermission)
	a.Skip("a.php", ReasonParse, errors.New("unbalanced braces"))
	a.Skip("m.php", ReasonCancelled, nil)
	r := a.Report()
	require.Len(t, r.Skipped, 3)
	assert.Equal(t, "a.php", r.Skipped[0].Path)
	assert.Equal(t, ReasonParse, r.Skipped[0].Reason)
	assert.Equal(t, "unbalanced braces", r.Skipped[0].Error)
	assert.Empty(t, r.Skipped[1].Error)
	assert.NotNil(t, r.Findings)
}

func TestReasonFor(t *testing.T) {
	assert.Equal(t, ReasonCancelled, ReasonFor(context.Canceled))
	assert.Equal(t, ReasonCancelled, ReasonFor(fmt.Errorf("read: %w", context.DeadlineExceeded)))
	assert.Equal(t, ReasonParse, ReasonFor(&adapter.ParseError{Path: "x.php", Err: adapter.ErrUnbalanced}))
	assert.Equal(t, ReasonIO, ReasonFor(os.ErrNotExist))
}

func TestAtLeast(t *testing.T) {
	fs := []types.Finding{
		fd("a", 1, "r", types.SevLow),
		fd("a", 2, "r", types.SevHigh),
		fd("a", 3, "r", types.SevCritical),
	}
	assert.Len(t, AtLeast(fs, types.SevHigh), 2)
	assert.Len(t, AtLeast(fs, types.SevLow), 3)
	assert.Empty(t, AtLeast(fs[:1], types.SevMedium))
}
