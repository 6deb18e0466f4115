// Package severity maps a finding's category and match context to a
// severity. The mapping is a fixed table that covers every category.
package severity

import (
	"fmt"
	"sort"
	"strings"

	"github.com/taintline/taintline/internal/types"
)

// Context tags a rule may declare statically.
const (
	TagRCE         = "rce"
	TagReflected   = "reflected"
	TagDestructive = "destructive"
	TagCredentials = "credentials"
)

// Context refines classification. The tag fields come from the rule; the
// mitigation flag from the individual match.
type Context struct {
	RCE         bool
	Reflected   bool
	Destructive bool
	Credentials bool
	// PartialMitigation is set when only a partial sanitizer was applied.
	PartialMitigation bool
}

// ParseContext builds a Context from rule tags.
func ParseContext(tags []string) (Context, error) {
	var c Context
	for _, t := range tags {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case TagRCE:
			c.RCE = true
		case TagReflected:
			c.Reflected = true
		case TagDestructive:
			c.Destructive = true
		case TagCredentials:
			c.Credentials = true
		default:
			return Context{}, fmt.Errorf("unknown context tag %q", t)
		}
	}
	return c, nil
}

func (c Context) has(tag string) bool {
	switch tag {
	case TagRCE:
		return c.RCE
	case TagReflected:
		return c.Reflected
	case TagDestructive:
		return c.Destructive
	case TagCredentials:
		return c.Credentials
	}
	return false
}

// Classifier is consulted by the registry at load time and by the matcher
// for every finding.
type Classifier interface {
	Classify(cat types.Category, ctx Context) (types.Severity, error)
	Mapped(cat types.Category) bool
}

type entry struct {
	base types.Severity
	// when the tag is present the category escalates to escalated
	tag       string
	escalated types.Severity
}

// Table is the default table-driven classifier.
type Table struct {
	entries map[types.Category]entry
}

var _ Classifier = (*Table)(nil)

func Default() *Table {
	return &Table{entries: map[types.Category]entry{
		types.CatSQLInjection:            {base: types.SevCritical},
		types.CatCommandInjection:        {base: types.SevHigh, tag: TagRCE, escalated: types.SevCritical},
		types.CatXSS:                     {base: types.SevHigh, tag: TagReflected, escalated: types.SevCritical},
		types.CatMissingAuthCheck:        {base: types.SevHigh, tag: TagDestructive, escalated: types.SevCritical},
		types.CatInsecureDeserialization: {base: types.SevCritical},
		types.CatHardcodedSecret:         {base: types.SevCritical},
		types.CatPathTraversal:           {base: types.SevHigh},
		types.CatInformationDisclosure:   {base: types.SevHigh},
		types.CatCORSMisconfiguration:    {base: types.SevMedium, tag: TagCredentials, escalated: types.SevHigh},
		types.CatWeakCryptography:        {base: types.SevMedium},
		types.CatExcessiveDataExposure:   {base: types.SevMedium},
		types.CatNPlusOneQuery:           {base: types.SevMedium},
		types.CatMissingInputValidation:  {base: types.SevMedium},
		types.CatResourceLeak:            {base: types.SevMedium},
		types.CatDeprecatedAPI:           {base: types.SevMedium},
		types.CatCodeQuality:             {base: types.SevLow},
	}}
}

// UnmappedError is returned for a category the table has no row for.
type UnmappedError struct {
	Category types.Category
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("category %q has no severity mapping", string(e.Category))
}

func (t *Table) Mapped(cat types.Category) bool {
	_, ok := t.entries[cat]
	return ok
}

func (t *Table) Classify(cat types.Category, ctx Context) (types.Severity, error) {
	e, ok := t.entries[cat]
	if !ok {
		return "", &UnmappedError{Category: cat}
	}
	sev := e.base
	if e.tag != "" && ctx.has(e.tag) {
		sev = e.escalated
	}
	if ctx.PartialMitigation {
		sev = sev.Lower()
	}
	return sev, nil
}

// Categories returns the mapped categories, sorted.
func (t *Table) Categories() []types.Category {
	out := make([]types.Category, 0, len(t.entries))
	for c := range t.entries {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
