package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"Critical", SevCritical, false},
		{"HIGH", SevHigh, false},
		{" medium ", SevMedium, false},
		{"low", SevLow, false},
		{"urgent", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SevCritical.AtLeast(SevHigh))
	assert.True(t, SevHigh.AtLeast(SevHigh))
	assert.False(t, SevMedium.AtLeast(SevHigh))
	assert.Equal(t, SevHigh, SevCritical.Lower())
	assert.Equal(t, SevLow, SevLow.Lower())
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestCategoryValid(t *testing.T) {
	for _, c := range Categories {
		assert.True(t, c.Valid(), c)
	}
	assert.False(t, Category("Spaghetti").Valid())
}

func TestFindingLocation(t *testing.T) {
	f := Finding{Path: "a.php", Line: 3, Column: 7}
	assert.Equal(t, "a.php:3:7", f.Location())
	f.Column = 0
	assert.Equal(t, "a.php:3", f.Location())
}
