package taint

import (
	"sort"
	"strings"

	"github.com/taintline/taintline/internal/ir"
	"github.com/taintline/taintline/internal/types"
)

// Status is the outcome for one (source category, sink call) pair.
type Status int

const (
	NotReached Status = iota
	Sanitized
	Tainted
)

func (s Status) String() string {
	switch s {
	case Tainted:
		return "tainted"
	case Sanitized:
		return "sanitized"
	default:
		return "not_reached"
	}
}

// Spec selects what a taint rule looks for.
type Spec struct {
	Sources []string
	Sink    string
	// Sanitizer defaults to Sink.
	Sanitizer string
}

type Result struct {
	Source     string
	Sink       *ir.Call
	Status     Status
	Confidence types.Confidence
	// Origin is where the first unsanitized value entered the function.
	Origin ir.Span
}

// maxLoopPasses bounds fixpoint iteration over a loop body.
const maxLoopPasses = 8

// numeric parameter and cast types never carry string taint.
var numericTypes = map[string]bool{
	"int": true, "integer": true, "float": true, "double": true, "bool": true, "boolean": true, "number": true,
}

// Tracker runs the per-function analysis against one catalog view. It holds
// no per-call state and is safe for concurrent use.
type Tracker struct {
	view *View
}

func NewTracker(v *View) *Tracker { return &Tracker{view: v} }

func (t *Tracker) View() *View { return t.view }

type flow struct {
	source  string
	origin  ir.Span
	full    uint64
	partial uint64
}

// flowSet is treated as immutable once stored in a state.
type flowSet map[flow]struct{}

func (s flowSet) union(o flowSet) flowSet {
	if len(o) == 0 {
		return s
	}
	if len(s) == 0 {
		return o
	}
	out := make(flowSet, len(s)+len(o))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range o {
		out[f] = struct{}{}
	}
	return out
}

func (s flowSet) mark(full, partial uint64) flowSet {
	if len(s) == 0 || full == 0 && partial == 0 {
		return s
	}
	out := make(flowSet, len(s))
	for f := range s {
		f.full |= full
		f.partial |= partial
		out[f] = struct{}{}
	}
	return out
}

func (s flowSet) equal(o flowSet) bool {
	if len(s) != len(o) {
		return false
	}
	for f := range s {
		if _, ok := o[f]; !ok {
			return false
		}
	}
	return true
}

type state map[string]flowSet

func (s state) clone() state {
	out := make(state, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// lookup returns the flows of the longest assigned prefix of path.
func (s state) lookup(path string) flowSet {
	for _, p := range prefixes(path) {
		if fs, ok := s[p]; ok {
			return fs
		}
	}
	return nil
}

// assign performs a strong update, dropping anything recorded below path.
func (s state) assign(path string, fs flowSet) {
	for k := range s {
		if k != path && (strings.HasPrefix(k, path+".") || strings.HasPrefix(k, path+"->")) {
			delete(s, k)
		}
	}
	s[path] = fs
}

func join(a, b state) state {
	out := make(state, len(a)+len(b))
	for k := range a {
		out[k] = a.lookup(k).union(b.lookup(k))
	}
	for k := range b {
		if _, done := out[k]; !done {
			out[k] = a.lookup(k).union(b.lookup(k))
		}
	}
	return out
}

func (s state) equal(o state) bool {
	if len(s) != len(o) {
		return false
	}
	for k, v := range s {
		w, ok := o[k]
		if !ok || !v.equal(w) {
			return false
		}
	}
	return true
}

type resultKey struct {
	call   *ir.Call
	source string
}

// run is the per-invocation analysis state.
type run struct {
	t        *Tracker
	spec     Spec
	sanitize uint64
	results  map[resultKey]*Result
	order    []resultKey
}

// Analyze reports, for every sink call of spec.Sink in fn, whether each
// requested source category reaches it.
func (t *Tracker) Analyze(fn *ir.Function, spec Spec) []Result {
	if spec.Sanitizer == "" {
		spec.Sanitizer = spec.Sink
	}
	r := &run{
		t:        t,
		spec:     spec,
		sanitize: t.view.bits[spec.Sanitizer],
		results:  map[resultKey]*Result{},
	}
	st := state{}
	for _, p := range fn.Params {
		if numericTypes[strings.ToLower(p.Type)] {
			continue
		}
		if p.Type == "" || strings.EqualFold(p.Type, "string") || strings.EqualFold(p.Type, "mixed") {
			st[p.Name] = flowSet{{source: SourceParameter, origin: p.Span}: {}}
		}
	}
	r.block(fn.Body, st)

	out := make([]Result, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, *r.results[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sink.Span != out[j].Sink.Span {
			return out[i].Sink.Span.Before(out[j].Sink.Span)
		}
		return indexOf(spec.Sources, out[i].Source) < indexOf(spec.Sources, out[j].Source)
	})
	return out
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return len(list)
}

func (r *run) block(stmts []*ir.Stmt, st state) state {
	for _, s := range stmts {
		st = r.stmt(s, st)
	}
	return st
}

func (r *run) stmt(s *ir.Stmt, st state) state {
	for _, c := range s.Closures {
		inner := st.clone()
		for _, p := range c.Params {
			inner.assign(p.Name, nil)
		}
		st = join(st, r.block(c.Body, inner))
	}
	switch s.Kind {
	case ir.StmtAssign:
		r.checkSinks(ir.StmtCalls(s), st)
		r.assign(s, st)
	case ir.StmtIf:
		r.checkSinks(ir.Calls(s.Expr), st)
		thenIn := st.clone()
		guarded := r.applyGuards(s.Expr, thenIn)
		thenOut := r.block(s.Body, guarded)
		elseOut := r.block(s.Else, st.clone())
		switch {
		case ir.Terminates(s.Body) && len(s.Else) > 0 && ir.Terminates(s.Else):
			return st
		case ir.Terminates(s.Body):
			return r.applyGuards(s.Expr, elseOut)
		case len(s.Else) > 0 && ir.Terminates(s.Else):
			return thenOut
		}
		return join(thenOut, elseOut)
	case ir.StmtLoop:
		return r.loop(s, st)
	case ir.StmtBlock:
		return r.block(s.Body, st)
	default:
		r.checkSinks(ir.StmtCalls(s), st)
	}
	return st
}

func (r *run) loop(s *ir.Stmt, st state) state {
	r.checkSinks(ir.Calls(s.Expr), st)
	in := st
	for pass := 0; pass < maxLoopPasses; pass++ {
		body := in.clone()
		if s.Loop != nil && len(s.Loop.Items) > 0 {
			coll := r.eval(s.Loop.Collection, in)
			for _, item := range s.Loop.Items {
				body.assign(item, coll)
			}
		}
		out := r.block(s.Body, body)
		next := join(in, out)
		if next.equal(in) {
			break
		}
		in = next
	}
	return in
}

func (r *run) assign(s *ir.Stmt, st state) {
	target := s.Target
	if target == nil || target.Kind != ir.NodeVar {
		return
	}
	value := r.eval(s.Expr, st)
	path := target.Path
	switch {
	case len(target.Index) > 0:
		// element write: the container keeps its other elements
		st[path] = st.lookup(path).union(value)
	case s.Op == "=":
		st.assign(path, value)
	case s.Op == ".=" || s.Op == "+=" || s.Op == "??=" || s.Op == "||=":
		st.assign(path, st.lookup(path).union(value))
	default:
		// arithmetic and bitwise compound assignment yields a number
		st.assign(path, nil)
	}
}

// applyGuards returns st with every guard sanitizer argument in cond marked
// clean for the guard's category. st itself is not modified.
func (r *run) applyGuards(cond *ir.Expr, st state) state {
	out, copied := st, false
	for _, c := range ir.Calls(cond) {
		for _, san := range r.t.view.sanitizers {
			if !san.guard || !san.pattern.Matches(c) || len(c.Args) == 0 {
				continue
			}
			bit := r.t.view.bits[san.category]
			full, partial := bit, uint64(0)
			if !san.full {
				full, partial = 0, bit
			}
			for _, v := range ir.Vars(c.Args[0]) {
				fs := out.lookup(v.Path)
				if len(fs) == 0 {
					continue
				}
				if !copied {
					out, copied = st.clone(), true
				}
				out[v.Path] = fs.mark(full, partial)
			}
		}
	}
	return out
}

func (r *run) checkSinks(calls []*ir.Call, st state) {
	for _, c := range calls {
		for _, sink := range r.t.view.sinks {
			if sink.category != r.spec.Sink || !sink.pattern.Matches(c) {
				continue
			}
			if sink.safe != nil && sink.safe.MatchString(c.Text) {
				continue
			}
			r.record(c, r.sinkFlows(c, sink, st))
			break
		}
	}
}

func (r *run) sinkFlows(c *ir.Call, sink compiledSink, st state) flowSet {
	var fs flowSet
	if len(sink.args) == 0 {
		for _, a := range c.Args {
			fs = fs.union(r.eval(a, st))
		}
		return fs
	}
	for _, i := range sink.args {
		if i < len(c.Args) {
			fs = fs.union(r.eval(c.Args[i], st))
		}
	}
	return fs
}

func (r *run) record(c *ir.Call, fs flowSet) {
	for _, src := range r.spec.Sources {
		res := &Result{Source: src, Sink: c, Status: NotReached, Confidence: types.ConfHigh}
		var dirty []flow
		reached := false
		for f := range fs {
			if f.source != src {
				continue
			}
			reached = true
			if r.sanitize == 0 || f.full&r.sanitize == 0 {
				dirty = append(dirty, f)
			}
		}
		switch {
		case len(dirty) > 0:
			res.Status = Tainted
			res.Confidence = types.ConfMedium
			for _, f := range dirty {
				if f.partial&r.sanitize == 0 {
					res.Confidence = types.ConfHigh
				}
			}
			sort.Slice(dirty, func(i, j int) bool { return dirty[i].origin.Before(dirty[j].origin) })
			res.Origin = dirty[0].origin
		case reached:
			res.Status = Sanitized
		}
		key := resultKey{call: c, source: src}
		prev, seen := r.results[key]
		if !seen {
			r.results[key] = res
			r.order = append(r.order, key)
			continue
		}
		// loop passes only grow states; keep the strongest outcome
		if res.Status > prev.Status || res.Status == prev.Status && res.Confidence == types.ConfHigh {
			r.results[key] = res
		}
	}
}

// eval returns the flows an expression may carry.
func (r *run) eval(e *ir.Expr, st state) flowSet {
	if e == nil {
		return nil
	}
	var fs flowSet
	for _, n := range e.Nodes {
		fs = fs.union(r.node(n, st))
	}
	return fs
}

func (r *run) node(n *ir.Node, st state) flowSet {
	switch n.Kind {
	case ir.NodeVar:
		fs := st.lookup(n.Path)
		if src := r.varSource(n.Path); src != "" {
			fs = fs.union(flowSet{{source: src, origin: n.Span}: {}})
		}
		return fs
	case ir.NodeString:
		var fs flowSet
		for _, p := range n.Interp {
			fs = fs.union(st.lookup(p))
			if src := r.varSource(p); src != "" {
				fs = fs.union(flowSet{{source: src, origin: n.Span}: {}})
			}
		}
		return fs
	case ir.NodeGroup:
		var fs flowSet
		for _, c := range n.Children {
			fs = fs.union(r.eval(c, st))
		}
		return fs
	case ir.NodeCall:
		return r.call(n.Call, st)
	}
	// numbers, constants, numeric casts and closures
	return nil
}

func (r *run) varSource(path string) string { return r.t.view.VarSource(path) }

func (r *run) call(c *ir.Call, st state) flowSet {
	v := r.t.view
	if src := v.CallSource(c); src != "" {
		return flowSet{{source: src, origin: c.Span}: {}}
	}
	for _, p := range v.neutral {
		if p.Matches(c) {
			return nil
		}
	}
	var args flowSet
	for _, a := range c.Args {
		args = args.union(r.eval(a, st))
	}
	var full, partial uint64
	matched := false
	for _, san := range v.sanitizers {
		if !san.pattern.Matches(c) {
			continue
		}
		matched = true
		if san.full {
			full |= v.bits[san.category]
		} else {
			partial |= v.bits[san.category]
		}
	}
	if matched {
		if len(args) == 0 && c.Recv != nil {
			args = r.node(c.Recv, st)
		}
		return args.mark(full, partial)
	}
	if c.Recv != nil {
		args = args.union(r.node(c.Recv, st))
	}
	return args
}
