package matcher

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/taintline/taintline/internal/ir"
	"github.com/taintline/taintline/internal/remediation"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/taint"
)

// env is the per-file input shared by every rule evaluation.
type env struct {
	file *ir.File
	view *taint.View
}

// callee renders a call target the way it reads in the file's language.
func (e *env) callee(c *ir.Call) string {
	name := c.Callee()
	if c.Method() && e.file.Language == "php" {
		name = c.Receiver + "->" + c.Name
	}
	if c.New {
		name = "new " + name
	}
	return name
}

type evalFunc func(r *compiledRule, e *env) []hit

type pattern struct {
	needCallees  bool
	needRequires bool
	needRegex    bool
	numericAllow bool
	needMax      bool
	eval         evalFunc
}

var library map[string]pattern

func init() {
	library = map[string]pattern{
		"call":                   {needCallees: true, eval: evalCall},
		"string_literal":         {needRegex: true, eval: evalStringLiteral},
		"missing_prior_call":     {needCallees: true, needRequires: true, eval: evalMissingPriorCall},
		"query_in_loop":          {needCallees: true, eval: evalQueryInLoop},
		"cors_wildcard":          {eval: evalCORSWildcard},
		"hardcoded_secret":       {needRegex: true, eval: evalHardcodedSecret},
		"unreleased_resource":    {needCallees: true, needRequires: true, eval: evalUnreleasedResource},
		"unvalidated_assignment": {needRequires: true, eval: evalUnvalidatedAssignment},
		"class_naming":           {eval: evalClassNaming},
		"magic_number":           {numericAllow: true, eval: evalMagicNumber},
		"missing_doc":            {eval: evalMissingDoc},
		"missing_return_type":    {eval: evalMissingReturnType},
		"duplicate_function":     {eval: evalDuplicateFunction},
		"unclear_name":           {eval: evalUnclearName},
		"long_function":          {needMax: true, eval: evalLongFunction},
	}
}

// Library validates structural match parameters for the rule registry.
type Library struct{}

var _ rules.PatternChecker = Library{}

func (Library) CheckPattern(m rules.Match) error {
	p, ok := library[m.Pattern]
	if m.Pattern == "" {
		return errors.New("structural rule needs a pattern")
	}
	if !ok {
		return fmt.Errorf("unknown pattern %q (known: %s)", m.Pattern, strings.Join(Patterns(), ", "))
	}
	var errs []error
	if p.needCallees && len(m.Callees) == 0 {
		errs = append(errs, fmt.Errorf("pattern %s needs callees", m.Pattern))
	}
	if p.needRequires && len(m.Requires) == 0 {
		errs = append(errs, fmt.Errorf("pattern %s needs requires", m.Pattern))
	}
	if p.needRegex && m.Regex == "" {
		errs = append(errs, fmt.Errorf("pattern %s needs regex", m.Pattern))
	}
	for _, list := range [][]string{m.Callees, m.Requires} {
		for _, c := range list {
			if _, err := taint.ParseCallPattern(c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if p.numericAllow {
		for _, a := range m.Allow {
			if _, ok := numericValue(a); !ok {
				errs = append(errs, fmt.Errorf("pattern %s: allow entry %q is not a number", m.Pattern, a))
			}
		}
	}
	switch {
	case p.needMax && m.Max <= 0:
		errs = append(errs, fmt.Errorf("pattern %s needs a positive max", m.Pattern))
	case !p.needMax && m.Max != 0:
		errs = append(errs, fmt.Errorf("pattern %s does not take max", m.Pattern))
	}
	if len(m.Sources) > 0 || m.Sink != "" {
		errs = append(errs, errors.New("structural rule cannot name taint sources or sinks"))
	}
	return errors.Join(errs...)
}

// Patterns lists the structural pattern names, sorted.
func Patterns() []string {
	out := make([]string, 0, len(library))
	for k := range library {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func matchesAny(ps []taint.CallPattern, c *ir.Call) bool {
	for _, p := range ps {
		if p.Matches(c) {
			return true
		}
	}
	return false
}

// unquote strips the delimiters of a string literal token.
func unquote(s string) string {
	if strings.HasPrefix(s, "<<<") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		if i := strings.LastIndexByte(s, '\n'); i >= 0 {
			s = s[:i]
		}
		return s
	}
	if len(s) >= 2 {
		switch s[0] {
		case '\'', '"', '`':
			if s[len(s)-1] == s[0] {
				return s[1 : len(s)-1]
			}
		}
	}
	return s
}

// literal returns the text of an expression that is a single string
// literal without interpolation.
func literal(e *ir.Expr) (string, bool) {
	if e == nil || len(e.Nodes) != 1 {
		return "", false
	}
	n := e.Nodes[0]
	if n.Kind != ir.NodeString || len(n.Interp) > 0 {
		return "", false
	}
	return unquote(n.Text), true
}

func shorten(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// lastSegment returns the trailing member of an access path without the
// PHP sigil: "$this->apiKey" is "apiKey".
func lastSegment(path string) string {
	for _, sep := range []string{"->", "::", "."} {
		if i := strings.LastIndex(path, sep); i >= 0 {
			path = path[i+len(sep):]
		}
	}
	return strings.TrimPrefix(path, "$")
}

// references reports whether e reads any of the named variables.
func references(e *ir.Expr, names map[string]bool) bool {
	for _, v := range ir.Vars(e) {
		if names[v.Root] || names[v.Path] {
			return true
		}
	}
	return false
}

func callReferences(c *ir.Call, names map[string]bool) bool {
	for _, a := range c.Args {
		if references(a, names) {
			return true
		}
	}
	if c.Recv != nil {
		return references(&ir.Expr{Nodes: []*ir.Node{c.Recv}}, names)
	}
	return false
}

func evalCall(r *compiledRule, e *env) []hit {
	re := r.ArgsRegexp()
	var out []hit
	for _, fn := range e.file.Functions {
		for _, c := range ir.FunctionCalls(fn) {
			if !matchesAny(r.callees, c) {
				continue
			}
			args := c.ArgText()
			if re != nil && !re.MatchString(args) {
				continue
			}
			out = append(out, hit{fn: fn, span: c.Span, data: remediation.MessageData{Callee: e.callee(c), Detail: shorten(args, 60)}})
		}
	}
	return out
}

// stmtExprs returns the expressions a statement evaluates directly.
func stmtExprs(s *ir.Stmt) []*ir.Expr {
	var out []*ir.Expr
	if s.Target != nil {
		out = append(out, s.Target.Index...)
	}
	if s.Expr != nil {
		out = append(out, s.Expr)
	}
	return out
}

func evalStringLiteral(r *compiledRule, e *env) []hit {
	re := r.Regexp()
	var out []hit
	for _, fn := range e.file.Functions {
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			for _, x := range stmtExprs(s) {
				ir.Inspect(x, func(n *ir.Node) bool {
					if n.Kind == ir.NodeString && re.MatchString(n.Text) {
						out = append(out, hit{fn: fn, span: n.Span, data: remediation.MessageData{Detail: shorten(unquote(n.Text), 60)}})
					}
					return true
				})
			}
			return true
		})
	}
	return out
}

func evalMissingPriorCall(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range e.file.Functions {
		calls := ir.FunctionCalls(fn)
		for _, c := range calls {
			if !matchesAny(r.callees, c) {
				continue
			}
			authorized := false
			for _, g := range calls {
				if g != c && g.Span.Before(c.Span) && matchesAny(r.requires, g) {
					authorized = true
					break
				}
			}
			if !authorized {
				out = append(out, hit{fn: fn, span: c.Span, data: remediation.MessageData{Callee: e.callee(c)}})
			}
		}
	}
	return out
}

// evalQueryInLoop reports queries issued per element of a collection that
// was itself fetched by a query.
func evalQueryInLoop(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range e.file.Functions {
		fetched := map[string]ir.Span{}
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind == ir.StmtAssign && s.Target != nil && s.Target.Kind == ir.NodeVar && s.Op == "=" {
				if _, ok := fetched[s.Target.Path]; !ok && r.isFetch(ir.Calls(s.Expr)) {
					fetched[s.Target.Path] = s.Span
				}
			}
			return true
		})
		bulk := func(coll *ir.Expr, at ir.Span) (string, bool) {
			if coll == nil {
				return "", false
			}
			if r.isFetch(ir.Calls(coll)) {
				return shorten(coll.Text, 60), true
			}
			for _, v := range ir.Vars(coll) {
				if sp, ok := fetched[v.Path]; ok && sp.Before(at) {
					return v.Path, true
				}
			}
			return "", false
		}
		seen := map[*ir.Call]bool{}
		report := func(body []*ir.Stmt, items []string, coll string) {
			names := map[string]bool{}
			for _, it := range items {
				names[it] = true
			}
			ir.Walk(body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
				for _, c := range ir.StmtCalls(s) {
					if seen[c] || !matchesAny(r.callees, c) || !callReferences(c, names) {
						continue
					}
					seen[c] = true
					out = append(out, hit{fn: fn, span: c.Span, data: remediation.MessageData{Callee: e.callee(c), Detail: coll}})
				}
				return true
			})
		}
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind == ir.StmtLoop && s.Loop != nil && len(s.Loop.Items) > 0 {
				if coll, ok := bulk(s.Loop.Collection, s.Span); ok {
					report(s.Body, s.Loop.Items, coll)
				}
			}
			// collection.forEach(item => ...) and friends
			for _, c := range ir.StmtCalls(s) {
				if !iterators[c.Name] || c.Recv == nil {
					continue
				}
				coll, ok := bulk(&ir.Expr{Nodes: []*ir.Node{c.Recv}, Text: c.Recv.Text}, c.Span)
				if !ok {
					continue
				}
				for _, a := range c.Args {
					for _, n := range a.Nodes {
						if n.Kind == ir.NodeClosure && n.Closure != nil {
							report(n.Closure.Body, paramNames(n.Closure.Params), coll)
						}
					}
				}
			}
			return true
		})
	}
	return out
}

var iterators = map[string]bool{"forEach": true, "map": true, "each": true, "filter": true}

func paramNames(ps []ir.Param) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}

func (r *compiledRule) isFetch(calls []*ir.Call) bool {
	if len(r.requires) == 0 {
		return len(calls) > 0
	}
	for _, c := range calls {
		if matchesAny(r.requires, c) {
			return true
		}
	}
	return false
}

var (
	corsWildcardRe    = regexp.MustCompile(`(?i)\borigin['"]?\s*[:,]\s*['"]?\s*\*`)
	corsCredentialsRe = regexp.MustCompile(`(?i)\bcredentials['"]?\s*[:,]\s*['"]?\s*true`)
)

func evalCORSWildcard(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range e.file.Functions {
		var wildcard *ir.Call
		credentials := false
		for _, c := range ir.FunctionCalls(fn) {
			args := c.ArgText()
			if wildcard == nil && corsWildcardRe.MatchString(args) {
				wildcard = c
			}
			if corsCredentialsRe.MatchString(args) {
				credentials = true
			}
		}
		if wildcard != nil && credentials {
			out = append(out, hit{fn: fn, span: wildcard.Span, data: remediation.MessageData{Callee: e.callee(wildcard), Detail: "set by " + e.callee(wildcard)}})
		}
	}
	return out
}

var placeholderRe = regexp.MustCompile(`(?i)^(x+|\*+|\.+|changeme|change_me|todo|null|none|secret|password|your[-_ ].*|<.*>|\$\{.*\}|%.*%)$`)

const minSecretLen = 6

func plausibleSecret(v string) bool {
	v = strings.TrimSpace(v)
	return len(v) >= minSecretLen && !placeholderRe.MatchString(v) && !strings.ContainsAny(v, " \t\n")
}

func evalHardcodedSecret(r *compiledRule, e *env) []hit {
	re := r.Regexp()
	var out []hit
	for _, fn := range e.file.Functions {
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind == ir.StmtAssign && s.Op == "=" && s.Target != nil && s.Target.Kind == ir.NodeVar && len(s.Target.Index) == 0 {
				if v, ok := literal(s.Expr); ok && re.MatchString(lastSegment(s.Target.Path)) && plausibleSecret(v) {
					out = append(out, hit{fn: fn, span: s.Expr.Span, data: remediation.MessageData{Detail: s.Target.Path}})
				}
			}
			for _, c := range ir.StmtCalls(s) {
				if !strings.EqualFold(c.Name, "define") || c.Receiver != "" || len(c.Args) < 2 {
					continue
				}
				name, ok := literal(c.Args[0])
				if !ok || !re.MatchString(name) {
					continue
				}
				if v, ok := literal(c.Args[1]); ok && plausibleSecret(v) {
					out = append(out, hit{fn: fn, span: c.Span, data: remediation.MessageData{Callee: "define", Detail: name}})
				}
			}
			return true
		})
	}
	return out
}

// evalUnreleasedResource reports handles stored in a local that is never
// passed to a close call, returned, or handed to another owner.
func evalUnreleasedResource(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range e.file.Functions {
		type opened struct {
			call *ir.Call
			path string
		}
		var handles []opened
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind != ir.StmtAssign || s.Target == nil || s.Target.Kind != ir.NodeVar || s.Target.Path != s.Target.Root {
				return true
			}
			for _, c := range ir.Calls(s.Expr) {
				if matchesAny(r.callees, c) {
					handles = append(handles, opened{call: c, path: s.Target.Path})
					break
				}
			}
			return true
		})
		for _, h := range handles {
			names := map[string]bool{h.path: true}
			released := false
			ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
				if released {
					return false
				}
				switch {
				case s.Kind == ir.StmtReturn && s.Expr != nil && references(s.Expr, names):
					released = true
				case s.Kind == ir.StmtAssign && s.Target != nil && s.Target.Path != h.path && s.Expr != nil && len(s.Expr.Nodes) == 1 && s.Expr.Nodes[0].Kind == ir.NodeVar && s.Expr.Nodes[0].Path == h.path:
					// moved to another owner
					released = true
				}
				for _, c := range ir.StmtCalls(s) {
					if matchesAny(r.requires, c) && callReferences(c, names) {
						released = true
					}
				}
				return true
			})
			if !released {
				out = append(out, hit{fn: fn, span: h.call.Span, data: remediation.MessageData{Callee: e.callee(h.call), Detail: h.path}})
			}
		}
	}
	return out
}

// rawInput reports whether e reads request data directly or an element of
// an untyped or array parameter.
func rawInput(fn *ir.Function, v *taint.View, x *ir.Expr) bool {
	raw := false
	ir.Inspect(x, func(n *ir.Node) bool {
		switch n.Kind {
		case ir.NodeVar:
			switch v.VarSource(n.Path) {
			case "request", "cookie":
				raw = true
			}
			if p, ok := fn.Param(n.Root); ok && (p.Type == "" || strings.EqualFold(p.Type, "array")) && (len(n.Index) > 0 || n.Path != n.Root) {
				raw = true
			}
		case ir.NodeCall:
			switch v.CallSource(n.Call) {
			case "request", "cookie":
				raw = true
			}
			// a call result is no longer raw; only look at its receiver chain
			return false
		}
		return !raw
	})
	return raw
}

func evalUnvalidatedAssignment(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range e.file.Functions {
		calls := ir.FunctionCalls(fn)
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind != ir.StmtAssign || s.Op != "=" || s.Target == nil || s.Target.Kind != ir.NodeVar || s.Target.Path == s.Target.Root {
				return true
			}
			if strings.HasPrefix(s.Target.Path, "$this->") || strings.HasPrefix(s.Target.Path, "this.") {
				return true
			}
			if !rawInput(fn, e.view, s.Expr) {
				return true
			}
			for _, c := range calls {
				if c.Span.Before(s.Span) && matchesAny(r.requires, c) {
					return true
				}
			}
			out = append(out, hit{fn: fn, span: s.Span, data: remediation.MessageData{Detail: s.Target.Path}})
			return true
		})
	}
	return out
}

var pascalCase = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

func evalClassNaming(r *compiledRule, e *env) []hit {
	re := r.Regexp()
	if re == nil {
		re = pascalCase
	}
	var out []hit
	for _, c := range e.file.Classes {
		if !re.MatchString(c.Name) {
			out = append(out, hit{owner: c.Name, span: c.NameSpan, data: remediation.MessageData{Detail: c.Name}})
		}
	}
	return out
}

func numericValue(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	if i, err := strconv.ParseInt(s, 0, 64); err == nil {
		return float64(i), true
	}
	return 0, false
}

func evalMagicNumber(r *compiledRule, e *env) []hit {
	allowed := map[float64]bool{0: true, 1: true, -1: true}
	for a := range r.allow {
		if v, ok := numericValue(a); ok {
			allowed[v] = true
		}
	}
	var out []hit
	for _, fn := range e.file.Functions {
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind != ir.StmtIf && s.Kind != ir.StmtLoop {
				return true
			}
			ir.Inspect(s.Expr, func(n *ir.Node) bool {
				if n.Kind != ir.NodeNumber {
					return true
				}
				if v, ok := numericValue(n.Text); ok && !allowed[v] {
					out = append(out, hit{fn: fn, span: n.Span, data: remediation.MessageData{Detail: n.Text}})
				}
				return true
			})
			return true
		})
	}
	return out
}

func named(fns []*ir.Function) []*ir.Function {
	out := make([]*ir.Function, 0, len(fns))
	for _, fn := range fns {
		if !fn.Synthetic {
			out = append(out, fn)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NameSpan.Before(out[j].NameSpan) })
	return out
}

func evalMissingDoc(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range named(e.file.Functions) {
		if strings.TrimSpace(fn.Doc) == "" {
			out = append(out, hit{fn: fn, span: fn.NameSpan, data: remediation.MessageData{Detail: fn.QualifiedName()}})
		}
	}
	return out
}

var noReturnType = map[string]bool{"__construct": true, "__destruct": true, "__clone": true, "constructor": true}

func evalMissingReturnType(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range named(e.file.Functions) {
		if fn.ReturnType == "" && !noReturnType[strings.ToLower(fn.Name)] {
			out = append(out, hit{fn: fn, span: fn.NameSpan, data: remediation.MessageData{Detail: fn.QualifiedName()}})
		}
	}
	return out
}

// minFingerprintTokens keeps one-line accessors out of duplicate detection.
const minFingerprintTokens = 5

// fingerprint hashes a body with variables and parameters renamed by first
// occurrence, so copies that only differ in naming collide.
func fingerprint(fn *ir.Function) (uint64, bool) {
	if len(fn.Tokens) < minFingerprintTokens {
		return 0, false
	}
	params := map[string]bool{}
	for _, p := range fn.Params {
		params[p.Name] = true
	}
	rename := map[string]string{}
	d := xxhash.New()
	for _, t := range fn.Tokens {
		v := t.Value
		if (t.Kind == ir.TokVariable && v != "$this") || (t.Kind == ir.TokIdent && params[v]) {
			alias, ok := rename[v]
			if !ok {
				alias = "v" + strconv.Itoa(len(rename))
				rename[v] = alias
			}
			v = alias
		}
		_, _ = d.WriteString(strconv.Itoa(int(t.Kind)))
		_, _ = d.WriteString(v)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64(), true
}

func evalDuplicateFunction(r *compiledRule, e *env) []hit {
	first := map[uint64]*ir.Function{}
	var out []hit
	for _, fn := range named(e.file.Functions) {
		sum, ok := fingerprint(fn)
		if !ok {
			continue
		}
		if orig, dup := first[sum]; dup {
			out = append(out, hit{fn: fn, span: fn.NameSpan, anchor: fn.QualifiedName() + " = " + orig.QualifiedName(), data: remediation.MessageData{
				Detail: fmt.Sprintf("%s duplicates %s (line %d)", fn.QualifiedName(), orig.QualifiedName(), orig.NameSpan.Start.Line),
			}})
			continue
		}
		first[sum] = fn
	}
	return out
}

var conventionalShort = map[string]bool{"i": true, "j": true, "k": true, "e": true, "n": true, "_": true}

func evalUnclearName(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range named(e.file.Functions) {
		var names []string
		seen := map[string]bool{}
		consider := func(raw string) {
			bare := strings.TrimPrefix(raw, "$")
			if len([]rune(bare)) != 1 || conventionalShort[bare] || r.allow[bare] || seen[raw] {
				return
			}
			seen[raw] = true
			names = append(names, raw)
		}
		for _, p := range fn.Params {
			consider(p.Name)
		}
		ir.Walk(fn.Body, func(s *ir.Stmt, _ []*ir.Stmt) bool {
			if s.Kind == ir.StmtAssign && s.Target != nil && s.Target.Kind == ir.NodeVar && s.Target.Path == s.Target.Root {
				consider(s.Target.Path)
			}
			return true
		})
		if len(names) > 0 {
			out = append(out, hit{fn: fn, span: fn.NameSpan, data: remediation.MessageData{Detail: strings.Join(names, ", ")}})
		}
	}
	return out
}

// codeLines counts the non-blank lines a span covers.
func codeLines(f *ir.File, sp ir.Span) int {
	n := 0
	for l := sp.Start.Line; l <= sp.End.Line; l++ {
		if strings.TrimSpace(f.Line(l)) != "" {
			n++
		}
	}
	return n
}

func evalLongFunction(r *compiledRule, e *env) []hit {
	var out []hit
	for _, fn := range named(e.file.Functions) {
		if n := codeLines(e.file, fn.Span); n > r.Match.Max {
			out = append(out, hit{fn: fn, span: fn.NameSpan, anchor: fn.QualifiedName(), data: remediation.MessageData{
				Detail: fmt.Sprintf("%s spans %d lines (limit %d)", fn.QualifiedName(), n, r.Match.Max),
			}})
		}
	}
	return out
}
