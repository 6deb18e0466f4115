// Package matcher evaluates a rule set against parsed files. Taint rules
// delegate to the taint tracker; structural rules run a named pattern from
// the library in patterns.go.
package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/ir"
	"github.com/taintline/taintline/internal/remediation"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/severity"
	"github.com/taintline/taintline/internal/taint"
	"github.com/taintline/taintline/internal/types"
)

const (
	// IgnoreMarker in a comment on the same or previous line drops a match.
	IgnoreMarker = "taintline:ignore"
	// IgnoreFileMarker anywhere in a file skips the whole file.
	IgnoreFileMarker = "taintline:ignore-file"
)

const maxSnippet = 200

// hit is one raw match before it becomes a Finding.
type hit struct {
	fn      *ir.Function
	owner   string // overrides the function name for class-level hits
	span    ir.Span
	data    remediation.MessageData
	partial bool
	// anchor overrides the identity derived from data for structural hits.
	anchor string
}

type compiledRule struct {
	*rules.Rule
	callees  []taint.CallPattern
	requires []taint.CallPattern
	allow    map[string]bool
	eval     evalFunc
}

// Matcher is safe for concurrent use; everything it holds is read-only
// after New.
type Matcher struct {
	rules []*compiledRule
	cls   severity.Classifier
	rm    *remediation.Mapper
	views map[string]*taint.View
	empty *taint.View
}

type Option func(*options)

type options struct {
	registry *adapter.Registry
}

// WithRegistry selects the adapters whose framework lists key the taint
// catalog views. The default is adapter.Default().
func WithRegistry(r *adapter.Registry) Option {
	return func(o *options) { o.registry = r }
}

func New(rs *rules.RuleSet, cat *taint.Catalog, cls severity.Classifier, rm *remediation.Mapper, opts ...Option) *Matcher {
	o := options{registry: adapter.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	m := &Matcher{
		cls:   cls,
		rm:    rm,
		views: map[string]*taint.View{},
		empty: cat.View(),
	}
	for _, lang := range o.registry.Languages() {
		a, _ := o.registry.ForLanguage(lang)
		m.views[lang] = cat.View(a.Frameworks()...)
	}
	for _, r := range rs.All() {
		cr := &compiledRule{Rule: r, allow: map[string]bool{}}
		cr.callees = compilePatterns(r.Match.Callees)
		cr.requires = compilePatterns(r.Match.Requires)
		for _, a := range r.Match.Allow {
			cr.allow[a] = true
		}
		if r.Kind == rules.KindTaint {
			cr.eval = evalTaint
		} else {
			cr.eval = library[r.Match.Pattern].eval
		}
		m.rules = append(m.rules, cr)
	}
	return m
}

func compilePatterns(raw []string) []taint.CallPattern {
	out := make([]taint.CallPattern, 0, len(raw))
	for _, s := range raw {
		if p, err := taint.ParseCallPattern(s); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func (m *Matcher) view(lang string) *taint.View {
	if v, ok := m.views[lang]; ok {
		return v
	}
	return m.empty
}

// IgnoredFile reports whether the file opts out of scanning.
func IgnoredFile(f *ir.File) bool {
	for _, c := range f.Comments {
		if strings.Contains(c.Text, IgnoreFileMarker) {
			return true
		}
	}
	return false
}

// Match runs every rule applicable to the file's language. The result is
// sorted by line, column and rule id and holds at most one finding per rule
// and line.
func (m *Matcher) Match(ctx context.Context, f *ir.File) ([]types.Finding, error) {
	if IgnoredFile(f) {
		return nil, nil
	}
	env := &env{file: f, view: m.view(f.Language)}
	type key struct {
		rule string
		line int
	}
	best := map[key]int{}
	var out []types.Finding
	for _, r := range m.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.AppliesTo(f.Language) || r.eval == nil {
			continue
		}
		for _, h := range r.eval(r, env) {
			if f.Suppressed(h.span.Start.Line, IgnoreMarker) {
				continue
			}
			fd, err := m.finding(r, f, h)
			if err != nil {
				return nil, err
			}
			k := key{fd.RuleID, fd.Line}
			if i, ok := best[k]; ok {
				if fd.Severity.Rank() > out[i].Severity.Rank() {
					out[i] = fd
				}
				continue
			}
			best[k] = len(out)
			out = append(out, fd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})
	return out, nil
}

func (m *Matcher) finding(r *compiledRule, f *ir.File, h hit) (types.Finding, error) {
	sctx := r.Context
	sctx.PartialMitigation = h.partial
	sev, err := m.cls.Classify(r.Category, sctx)
	if err != nil {
		return types.Finding{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	msg, err := r.Render(h.data)
	if err != nil {
		return types.Finding{}, fmt.Errorf("rule %s: render message: %w", r.ID, err)
	}
	conf := types.ConfHigh
	if h.partial {
		conf = types.ConfMedium
	}
	fd := types.Finding{
		RuleID:     r.ID,
		Category:   r.Category,
		Severity:   sev,
		Confidence: conf,
		Path:       f.Path,
		Line:       h.span.Start.Line,
		Column:     h.span.Start.Column,
		EndLine:    h.span.End.Line,
		EndColumn:  h.span.End.Column,
		Snippet:    snippet(f.Line(h.span.Start.Line)),
		Message:    msg,
		Source:     h.data.Source,
		Sink:       h.data.Callee,
	}
	if r.Kind != rules.KindTaint {
		fd.Sink = ""
		fd.Anchor = h.identity()
	}
	switch {
	case h.owner != "":
		fd.Function = h.owner
	case h.fn != nil:
		fd.Function = h.fn.QualifiedName()
	}
	if p, ok := m.rm.Resolve(r.RemediationID); ok {
		fd.Remediation = p.Remediation()
	}
	return fd, nil
}

// identity names what a structural hit matched: its callee and detail
// unless the pattern set an explicit anchor.
func (h hit) identity() string {
	if h.anchor != "" {
		return h.anchor
	}
	switch {
	case h.data.Callee == "":
		return h.data.Detail
	case h.data.Detail == "":
		return h.data.Callee
	}
	return h.data.Callee + " " + h.data.Detail
}

func snippet(line string) string {
	if len(line) <= maxSnippet {
		return line
	}
	cut := maxSnippet
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "..."
}

// evalTaint runs the tracker over every function and reports Tainted
// results at the sink call.
func evalTaint(r *compiledRule, e *env) []hit {
	tr := taint.NewTracker(e.view)
	spec := taint.Spec{Sources: r.Match.Sources, Sink: r.Match.Sink, Sanitizer: r.Match.Sanitizer}
	var out []hit
	for _, fn := range e.file.Functions {
		for _, res := range tr.Analyze(fn, spec) {
			if res.Status != taint.Tainted {
				continue
			}
			out = append(out, hit{
				fn:   fn,
				span: res.Sink.Span,
				data: remediation.MessageData{
					Source: res.Source,
					Sink:   r.Match.Sink,
					Callee: e.callee(res.Sink),
					Detail: fmt.Sprintf("%s input from line %d", res.Source, res.Origin.Start.Line),
				},
				partial: res.Confidence == types.ConfMedium,
			})
		}
	}
	return out
}
