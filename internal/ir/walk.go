package ir

// Walk visits every statement in stmts depth-first, including branch bodies,
// loop bodies and closure bodies. loops holds the enclosing loop statements,
// outermost first. Returning false from visit skips the statement's children.
func Walk(stmts []*Stmt, visit func(s *Stmt, loops []*Stmt) bool) {
	walk(stmts, nil, visit)
}

func walk(stmts []*Stmt, loops []*Stmt, visit func(*Stmt, []*Stmt) bool) {
	for _, s := range stmts {
		if !visit(s, loops) {
			continue
		}
		inner := loops
		if s.Kind == StmtLoop {
			inner = append(append([]*Stmt(nil), loops...), s)
		}
		walk(s.Body, inner, visit)
		walk(s.Else, loops, visit)
		for _, c := range s.Closures {
			walk(c.Body, inner, visit)
		}
	}
}

// Inspect calls fn for each node in e in source order, descending into call
// receivers, arguments, subscripts, groups and casts. Closure bodies are not
// entered. Returning false skips the node's children.
func Inspect(e *Expr, fn func(*Node) bool) {
	if e == nil {
		return
	}
	for _, n := range e.Nodes {
		inspectNode(n, fn)
	}
}

func inspectNode(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, ix := range n.Index {
		Inspect(ix, fn)
	}
	if n.Call != nil {
		if n.Call.Recv != nil {
			inspectNode(n.Call.Recv, fn)
		}
		for _, a := range n.Call.Args {
			Inspect(a, fn)
		}
	}
	for _, c := range n.Children {
		Inspect(c, fn)
	}
}

// Calls returns every call in e, receivers before the calls made on them.
func Calls(e *Expr) []*Call {
	var out []*Call
	Inspect(e, func(n *Node) bool {
		if n.Kind == NodeCall {
			if n.Call.Recv != nil {
				out = append(out, Calls(&Expr{Nodes: []*Node{n.Call.Recv}})...)
			}
			out = append(out, n.Call)
			for _, a := range n.Call.Args {
				out = append(out, Calls(a)...)
			}
			return false
		}
		return true
	})
	return out
}

// StmtCalls returns the calls appearing directly in a statement's target and
// expression (not in nested bodies).
func StmtCalls(s *Stmt) []*Call {
	var out []*Call
	if s.Target != nil {
		for _, ix := range s.Target.Index {
			out = append(out, Calls(ix)...)
		}
		if s.Target.Kind == NodeCall {
			out = append(out, Calls(&Expr{Nodes: []*Node{s.Target}})...)
		}
	}
	out = append(out, Calls(s.Expr)...)
	return out
}

// FunctionCalls returns every call anywhere in fn, in statement order.
func FunctionCalls(fn *Function) []*Call {
	var out []*Call
	Walk(fn.Body, func(s *Stmt, _ []*Stmt) bool {
		out = append(out, StmtCalls(s)...)
		return true
	})
	return out
}

// Vars returns the access paths of every variable node in e.
func Vars(e *Expr) []*Node {
	var out []*Node
	Inspect(e, func(n *Node) bool {
		if n.Kind == NodeVar {
			out = append(out, n)
		}
		return true
	})
	return out
}
