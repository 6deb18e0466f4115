package report

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taintline/taintline/internal/types"
)

func TestBaselineFiltersKnownFindings(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultBaseline)
	known := sampleReport().Findings
	require.NoError(t, SaveBaseline(path, known[:1]))

	base, err := LoadBaseline(path)
	require.NoError(t, err)

	// an edit above the finding moves it down; the baseline still matches
	moved := known[0]
	moved.Line += 5
	fresh := types.Finding{RuleID: "sql-injection", Path: "app/Users.php", Line: 30, Function: "Users::search", Snippet: "mysqli_query($db, $q)"}

	got := FilterNewFindings([]types.Finding{moved, known[1], fresh}, base)
	require.Len(t, got, 2)
	assert.Equal(t, "magic-number", got[0].RuleID)
	assert.Equal(t, "Users::search", got[1].Function)
}

func TestLoadBaselineMissing(t *testing.T) {
	b, err := LoadBaseline(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
	assert.NotNil(t, b.Items)
}

func TestShouldFail(t *testing.T) {
	fs := sampleReport().Findings
	assert.True(t, ShouldFail(fs, types.SevHigh))
	assert.True(t, ShouldFail(fs[1:], types.SevLow))
	assert.False(t, ShouldFail(fs[1:], types.SevHigh))
	assert.False(t, ShouldFail(nil, types.SevLow))
}
