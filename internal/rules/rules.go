// Package rules loads, validates and serves the declarative rule set.
//
// A RuleSet is built once per session by Load and is never mutated
// afterwards. Loading is all or nothing: any invalid definition fails the
// whole set with a *DefinitionError listing every problem found.
package rules

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/blang/semver/v4"

	"github.com/taintline/taintline/internal/remediation"
	"github.com/taintline/taintline/internal/severity"
	"github.com/taintline/taintline/internal/taint"
	"github.com/taintline/taintline/internal/types"
)

// EngineVersion is the version rule packs are checked against.
const EngineVersion = "1.0.0"

type Kind string

const (
	KindStructural Kind = "structural"
	KindTaint      Kind = "taint"
)

// Match is the union of taint and structural match parameters. Which fields
// apply depends on the rule kind and, for structural rules, on the pattern.
type Match struct {
	// taint
	Sources   []string `yaml:"sources,omitempty" json:"sources,omitempty"`
	Sink      string   `yaml:"sink,omitempty" json:"sink,omitempty"`
	Sanitizer string   `yaml:"sanitizer,omitempty" json:"sanitizer,omitempty"`

	// structural
	Pattern  string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Callees  []string `yaml:"callees,omitempty" json:"callees,omitempty"`
	Args     string   `yaml:"args,omitempty" json:"args,omitempty"`
	Regex    string   `yaml:"regex,omitempty" json:"regex,omitempty"`
	Requires []string `yaml:"requires,omitempty" json:"requires,omitempty"`
	Allow    []string `yaml:"allow,omitempty" json:"allow,omitempty"`
	// Max is a size limit for patterns that measure code.
	Max int `yaml:"max,omitempty" json:"max,omitempty"`
}

// Definition is one rule as written in a pack, before validation.
type Definition struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	Category    string   `yaml:"category"`
	Severity    string   `yaml:"severity"`
	Kind        string   `yaml:"kind"`
	Languages   []string `yaml:"languages,omitempty"`
	Context     []string `yaml:"context,omitempty"`
	Match       Match    `yaml:"match"`
	Remediation string   `yaml:"remediation"`
	Message     string   `yaml:"message"`
}

// Rule is a validated, immutable rule.
type Rule struct {
	ID            string
	Title         string
	Category      types.Category
	Severity      types.Severity
	Kind          Kind
	Languages     []string
	Context       severity.Context
	Match         Match
	RemediationID string
	Message       string

	tags    []string
	tmpl    *template.Template
	argsRe  *regexp.Regexp
	regexRe *regexp.Regexp
}

// AppliesTo reports whether the rule runs on files of the given language.
func (r *Rule) AppliesTo(lang string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Tags returns the static context tags the rule declared.
func (r *Rule) Tags() []string { return append([]string(nil), r.tags...) }

// ArgsRegexp is the compiled match.args expression, or nil.
func (r *Rule) ArgsRegexp() *regexp.Regexp { return r.argsRe }

// Regexp is the compiled match.regex expression, or nil.
func (r *Rule) Regexp() *regexp.Regexp { return r.regexRe }

// Render fills the rule's message template.
func (r *Rule) Render(data remediation.MessageData) (string, error) {
	data.Rule = r.ID
	data.Category = string(r.Category)
	return remediation.Execute(r.tmpl, data)
}

func (r *Rule) definition() Definition {
	return Definition{
		ID:          r.ID,
		Title:       r.Title,
		Category:    string(r.Category),
		Severity:    string(r.Severity),
		Kind:        string(r.Kind),
		Languages:   r.Languages,
		Context:     r.tags,
		Match:       r.Match,
		Remediation: r.RemediationID,
		Message:     r.Message,
	}
}

// PatternChecker validates structural match parameters. The matcher's
// pattern library implements it.
type PatternChecker interface {
	CheckPattern(m Match) error
}

// LoadOptions carries the collaborators a rule set is validated against.
type LoadOptions struct {
	Classifier   severity.Classifier
	Remediations *remediation.Mapper
	Catalog      *taint.Catalog
	Patterns     PatternChecker
	// Languages, when set, restricts the language names rules may target.
	Languages []string
	// Version overrides EngineVersion for the requires gate.
	Version string
}

// DefinitionError reports every problem found in a rule set.
type DefinitionError struct {
	Problems []error
}

func (e *DefinitionError) Error() string {
	if len(e.Problems) == 1 {
		return "invalid rule definition: " + e.Problems[0].Error()
	}
	return fmt.Sprintf("invalid rule definitions (%d problems):\n%s", len(e.Problems), errors.Join(e.Problems...).Error())
}

func (e *DefinitionError) Unwrap() []error { return e.Problems }

func (o LoadOptions) version() (semver.Version, error) {
	v := o.Version
	if v == "" {
		v = EngineVersion
	}
	return semver.ParseTolerant(v)
}

// LoadPack checks the pack's engine requirement and loads its rules.
func LoadPack(p Pack, opts LoadOptions) (*RuleSet, error) {
	if p.Requires != "" {
		rng, err := semver.ParseRange(p.Requires)
		if err != nil {
			return nil, &DefinitionError{Problems: []error{fmt.Errorf("requires %q: %w", p.Requires, err)}}
		}
		v, err := opts.version()
		if err != nil {
			return nil, &DefinitionError{Problems: []error{fmt.Errorf("engine version: %w", err)}}
		}
		if !rng(v) {
			return nil, &DefinitionError{Problems: []error{fmt.Errorf("rule pack requires engine %s, running %s", p.Requires, v)}}
		}
	}
	return Load(p.Rules, opts)
}

// Load validates defs and builds a RuleSet.
func Load(defs []Definition, opts LoadOptions) (*RuleSet, error) {
	var problems []error
	if opts.Classifier == nil || opts.Remediations == nil || opts.Catalog == nil || opts.Patterns == nil {
		return nil, &DefinitionError{Problems: []error{errors.New("load options need a classifier, remediation mapper, taint catalog and pattern library")}}
	}
	seen := make(map[string]string, len(defs))
	set := &RuleSet{byID: make(map[string]*Rule, len(defs))}
	for i, d := range defs {
		r, errs := build(d, opts)
		label := d.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		for _, err := range errs {
			problems = append(problems, fmt.Errorf("rule %s: %w", label, err))
		}
		if d.ID == "" {
			continue
		}
		key := strings.ToLower(d.ID)
		if prev, dup := seen[key]; dup {
			problems = append(problems, fmt.Errorf("rule %s: duplicate id (first defined as %s)", d.ID, prev))
			continue
		}
		seen[key] = d.ID
		if len(errs) == 0 {
			set.byID[r.ID] = r
			set.order = append(set.order, r.ID)
		}
	}
	if len(problems) > 0 {
		return nil, &DefinitionError{Problems: problems}
	}
	sort.Strings(set.order)
	return set, nil
}

var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

func build(d Definition, opts LoadOptions) (*Rule, []error) {
	var errs []error
	r := &Rule{
		ID:            strings.TrimSpace(d.ID),
		Title:         d.Title,
		Kind:          Kind(strings.ToLower(d.Kind)),
		Languages:     d.Languages,
		Match:         d.Match,
		RemediationID: d.Remediation,
		Message:       d.Message,
		tags:          d.Context,
	}
	if r.ID == "" {
		errs = append(errs, errors.New("missing id"))
	} else if !idRe.MatchString(strings.ToLower(r.ID)) {
		errs = append(errs, fmt.Errorf("id %q must be lower-case words joined by - . or _", r.ID))
	}

	sev, err := types.ParseSeverity(d.Severity)
	if err != nil {
		errs = append(errs, err)
	}
	r.Severity = sev

	r.Category = types.Category(d.Category)
	switch {
	case !r.Category.Valid():
		errs = append(errs, fmt.Errorf("unknown category %q", d.Category))
	case !opts.Classifier.Mapped(r.Category):
		errs = append(errs, fmt.Errorf("category %s has no severity mapping", r.Category))
	}

	ctx, err := severity.ParseContext(d.Context)
	if err != nil {
		errs = append(errs, err)
	}
	r.Context = ctx
	if sev.Valid() && r.Category.Valid() && opts.Classifier.Mapped(r.Category) && err == nil {
		want, cerr := opts.Classifier.Classify(r.Category, ctx)
		if cerr != nil {
			errs = append(errs, cerr)
		} else if want != sev {
			errs = append(errs, fmt.Errorf("severity %s disagrees with classification %s for %s", sev, want, r.Category))
		}
	}

	if r.RemediationID == "" {
		errs = append(errs, errors.New("missing remediation"))
	} else if _, ok := opts.Remediations.Resolve(r.RemediationID); !ok {
		errs = append(errs, fmt.Errorf("remediation %q does not resolve", r.RemediationID))
	}

	if strings.TrimSpace(r.Message) == "" {
		errs = append(errs, errors.New("missing message"))
	} else if err := remediation.Check(r.Message); err != nil {
		errs = append(errs, fmt.Errorf("message: %w", err))
	} else {
		r.tmpl, _ = remediation.Parse(r.Message)
	}

	if len(opts.Languages) > 0 {
		for _, l := range r.Languages {
			if !containsFold(opts.Languages, l) {
				errs = append(errs, fmt.Errorf("unknown language %q", l))
			}
		}
	}

	switch r.Kind {
	case KindTaint:
		errs = append(errs, checkTaint(r.Match, opts.Catalog)...)
	case KindStructural:
		if err := opts.Patterns.CheckPattern(r.Match); err != nil {
			errs = append(errs, err)
		}
		if r.Match.Args != "" {
			if r.argsRe, err = regexp.Compile(r.Match.Args); err != nil {
				errs = append(errs, fmt.Errorf("match.args: %w", err))
			}
		}
		if r.Match.Regex != "" {
			if r.regexRe, err = regexp.Compile(r.Match.Regex); err != nil {
				errs = append(errs, fmt.Errorf("match.regex: %w", err))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kind %q", d.Kind))
	}
	return r, errs
}

func checkTaint(m Match, cat *taint.Catalog) []error {
	var errs []error
	if len(m.Sources) == 0 {
		errs = append(errs, errors.New("taint rule needs at least one source"))
	}
	for _, s := range m.Sources {
		if !cat.HasSource(s) {
			errs = append(errs, fmt.Errorf("unknown source category %q", s))
		}
	}
	if m.Sink == "" {
		errs = append(errs, errors.New("taint rule needs a sink"))
	} else if !cat.HasSink(m.Sink) {
		errs = append(errs, fmt.Errorf("unknown sink category %q", m.Sink))
	}
	if m.Sanitizer != "" && !cat.HasSanitizer(m.Sanitizer) {
		errs = append(errs, fmt.Errorf("unknown sanitizer category %q", m.Sanitizer))
	}
	if m.Pattern != "" {
		errs = append(errs, errors.New("taint rule cannot name a structural pattern"))
	}
	return errs
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
