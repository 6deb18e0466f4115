package severity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/taintline/taintline/internal/types"
)

func TestTableIsTotal(t *testing.T) {
	tbl := Default()
	for _, c := range types.Categories {
		assert.True(t, tbl.Mapped(c), "category %s is not mapped", c)
		sev, err := tbl.Classify(c, Context{})
		require.NoError(t, err)
		assert.True(t, sev.Valid())
	}
	assert.Len(t, tbl.Categories(), len(types.Categories))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		cat  types.Category
		ctx  Context
		want types.Severity
	}{
		{types.CatSQLInjection, Context{}, types.SevCritical},
		{types.CatCommandInjection, Context{}, types.SevHigh},
		{types.CatCommandInjection, Context{RCE: true}, types.SevCritical},
		{types.CatXSS, Context{}, types.SevHigh},
		{types.CatXSS, Context{Reflected: true}, types.SevCritical},
		{types.CatMissingAuthCheck, Context{Destructive: true}, types.SevCritical},
		{types.CatMissingAuthCheck, Context{}, types.SevHigh},
		{types.CatCORSMisconfiguration, Context{Credentials: true}, types.SevHigh},
		{types.CatCORSMisconfiguration, Context{}, types.SevMedium},
		{types.CatPathTraversal, Context{}, types.SevHigh},
		{types.CatWeakCryptography, Context{}, types.SevMedium},
		{types.CatNPlusOneQuery, Context{}, types.SevMedium},
		{types.CatCodeQuality, Context{}, types.SevLow},
		// a tag that does not apply to the category is ignored
		{types.CatPathTraversal, Context{RCE: true}, types.SevHigh},
		{types.CatSQLInjection, Context{PartialMitigation: true}, types.SevHigh},
		{types.CatXSS, Context{Reflected: true, PartialMitigation: true}, types.SevHigh},
		{types.CatCodeQuality, Context{PartialMitigation: true}, types.SevLow},
	}
	tbl := Default()
	for _, tc := range cases {
		got, err := tbl.Classify(tc.cat, tc.ctx)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "%s %+v", tc.cat, tc.ctx)
	}
}

func TestClassifyUnmapped(t *testing.T) {
	_, err := Default().Classify(types.Category("Typosquatting"), Context{})
	var ue *UnmappedError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, types.Category("Typosquatting"), ue.Category)
	assert.False(t, Default().Mapped("Typosquatting"))
}

func TestParseContext(t *testing.T) {
	c, err := ParseContext([]string{"RCE", " destructive"})
	require.NoError(t, err)
	assert.Equal(t, Context{RCE: true, Destructive: true}, c)

	_, err = ParseContext([]string{"sneaky"})
	assert.Error(t, err)
}
