package report

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	xxhash "github.com/cespare/xxhash/v2"

	"github.com/taintline/taintline/internal/types"
)

// DefaultBaseline is the file `baseline update` writes in the scan root.
const DefaultBaseline = "taintline.baseline.json"

// Baseline records accepted findings. Keys ignore line numbers so that
// unrelated edits do not resurface known findings.
type Baseline struct {
	Items map[string]bool `json:"items"`
}

func LoadBaseline(path string) (Baseline, error) {
	b := Baseline{Items: map[string]bool{}}
	f, err := os.ReadFile(path)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(f, &b); err != nil {
		return Baseline{Items: map[string]bool{}}, err
	}
	if b.Items == nil {
		b.Items = map[string]bool{}
	}
	return b, nil
}

func SaveBaseline(path string, findings []types.Finding) error {
	b := Baseline{Items: map[string]bool{}}
	for _, f := range findings {
		b.Items[key(f)] = true
	}
	buf, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

// FilterNewFindings drops findings recorded in base.
func FilterNewFindings(findings []types.Finding, base Baseline) []types.Finding {
	var out []types.Finding
	for _, f := range findings {
		if !base.Items[key(f)] {
			out = append(out, f)
		}
	}
	return out
}

func key(f types.Finding) string {
	snip := strings.Join(strings.Fields(f.Snippet), " ")
	return f.Path + "|" + f.RuleID + "|" + strings.ToLower(f.Function) + "|" +
		strconv.FormatUint(xxhash.Sum64String(snip), 16)
}

// ShouldFail reports whether any finding is at or above min.
func ShouldFail(findings []types.Finding, min types.Severity) bool {
	for _, f := range findings {
		if f.Severity.AtLeast(min) {
			return true
		}
	}
	return false
}
