package findings

import (
	"sort"
	"strings"

	"github.com/taintline/taintline/internal/types"
)

// Class is the outcome of one finding instance across a before/after pair.
type Class string

const (
	VerifiedRemediation Class = "verified_remediation"
	Unresolved          Class = "unresolved"
	Regression          Class = "regression"
)

// Location identifies a finding instance independently of line numbers, so
// edits above a finding do not break the pairing. Source, Sink and Anchor
// tell apart instances of one rule inside one function; Ordinal only counts
// instances that agree on all of them, in source order.
type Location struct {
	Path     string `json:"path"`
	RuleID   string `json:"rule_id"`
	Function string `json:"function,omitempty"`
	Source   string `json:"source,omitempty"`
	Sink     string `json:"sink,omitempty"`
	Anchor   string `json:"anchor,omitempty"`
	Ordinal  int    `json:"ordinal"`
}

type Entry struct {
	Class    Class          `json:"class"`
	Location Location       `json:"location"`
	Before   *types.Finding `json:"before,omitempty"`
	After    *types.Finding `json:"after,omitempty"`
}

// DiffResult partitions every instance seen on either side.
type DiffResult struct {
	Verified    []Entry `json:"verified"`
	Unresolved  []Entry `json:"unresolved"`
	Regressions []Entry `json:"regressions"`
}

// Clean reports no regressions and nothing left unresolved.
func (d DiffResult) Clean() bool {
	return len(d.Regressions) == 0 && len(d.Unresolved) == 0
}

// Entries returns all entries ordered by location.
func (d DiffResult) Entries() []Entry {
	out := make([]Entry, 0, len(d.Verified)+len(d.Unresolved)+len(d.Regressions))
	out = append(out, d.Verified...)
	out = append(out, d.Unresolved...)
	out = append(out, d.Regressions...)
	sortEntries(out)
	return out
}

// Diff classifies findings present before, after or on both sides. A finding
// counts as remediated only when its own instance disappears; a lower total
// count in the same file is not enough.
func Diff(before, after []types.Finding) DiffResult {
	b := locate(before)
	a := locate(after)

	var res DiffResult
	for loc, f := range b {
		f := f
		if g, ok := a[loc]; ok {
			g := g
			res.Unresolved = append(res.Unresolved, Entry{Class: Unresolved, Location: loc, Before: &f, After: &g})
			continue
		}
		res.Verified = append(res.Verified, Entry{Class: VerifiedRemediation, Location: loc, Before: &f})
	}
	for loc, g := range a {
		if _, ok := b[loc]; ok {
			continue
		}
		g := g
		res.Regressions = append(res.Regressions, Entry{Class: Regression, Location: loc, After: &g})
	}
	sortEntries(res.Verified)
	sortEntries(res.Unresolved)
	sortEntries(res.Regressions)
	return res
}

func locate(fs []types.Finding) map[Location]types.Finding {
	sorted := append([]types.Finding(nil), fs...)
	Sort(sorted)
	next := map[Location]int{}
	out := make(map[Location]types.Finding, len(sorted))
	for _, f := range sorted {
		g := Location{
			Path:     f.Path,
			RuleID:   f.RuleID,
			Function: strings.ToLower(f.Function),
			Source:   f.Source,
			Sink:     normalize(f.Sink),
			Anchor:   normalize(f.Anchor),
		}
		loc := g
		loc.Ordinal = next[g]
		next[g]++
		out[loc] = f
	}
	return out
}

// normalize collapses whitespace so reformatting a line keeps its identity.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i].Location, es[j].Location
		if a.Path != b.Path {
			return a.Path < b.Path
		}
		if a.Function != b.Function {
			return a.Function < b.Function
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.Sink != b.Sink {
			return a.Sink < b.Sink
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Anchor != b.Anchor {
			return a.Anchor < b.Anchor
		}
		return a.Ordinal < b.Ordinal
	})
}
