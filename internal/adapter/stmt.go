package adapter

import (
	"strings"

	"github.com/taintline/taintline/internal/ir"
)

func (ps *parser) parseBlock(toks []ir.Token) []*ir.Stmt {
	toks = withoutComments(toks)
	var out []*ir.Stmt
	for i := 0; i < len(toks); {
		stmts, next := ps.parseStatement(toks, i)
		out = append(out, stmts...)
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return out
}

// parseBody parses the body following a control header: a braced block or a
// single statement.
func (ps *parser) parseBody(toks []ir.Token, j int) ([]*ir.Stmt, int) {
	if j >= len(toks) {
		return nil, j
	}
	if isPunct(toks[j], "{") {
		end := matchClose(toks, j)
		return ps.parseBlock(toks[j+1 : end]), end + 1
	}
	return ps.parseStatement(toks, j)
}

func (ps *parser) parseStatement(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	t := toks[i]
	if isPunct(t, ";") {
		return nil, i + 1
	}
	if isPunct(t, "{") {
		end := matchClose(toks, i)
		st := &ir.Stmt{Kind: ir.StmtBlock, Body: ps.parseBlock(toks[i+1 : end]), Span: spanOf(toks[i : end+1])}
		return []*ir.Stmt{st}, end + 1
	}
	if t.Kind == ir.TokKeyword {
		switch strings.ToLower(t.Value) {
		case "if", "elseif":
			return ps.parseIf(toks, i)
		case "foreach", "for", "while":
			return ps.parseLoop(toks, i)
		case "do":
			return ps.parseDo(toks, i)
		case "switch":
			return ps.parseSwitch(toks, i)
		case "try":
			return ps.parseTry(toks, i)
		case "case", "default":
			j := i + 1
			for j < len(toks) && !isOp(toks[j], ":") && !isPunct(toks[j], ";") {
				j++
			}
			return nil, j + 1
		case "break", "continue", "namespace", "use", "import", "declare":
			_, next := ps.stmtEnd(toks, i)
			return nil, next
		case "export":
			return nil, i + 1
		case "function":
			if i+1 < len(toks) && toks[i+1].Kind == ir.TokIdent {
				n, next := ps.parseClosure(toks, i)
				if n == nil {
					return nil, next
				}
				st := &ir.Stmt{Kind: ir.StmtExpr, Expr: &ir.Expr{Nodes: []*ir.Node{n}, Text: n.Text, Span: n.Span}, Span: n.Span}
				st.Closures = []*ir.Closure{n.Closure}
				return []*ir.Stmt{st}, next
			}
		}
	}
	end, next := ps.stmtEnd(toks, i)
	return ps.simpleStatement(toks[i:end]), next
}

// stmtEnd finds where a simple statement starting at i ends. It returns the
// exclusive end and the index to resume from.
func (ps *parser) stmtEnd(toks []ir.Token, i int) (int, int) {
	depth := 0
	for j := i; j < len(toks); j++ {
		t := toks[j]
		if t.Kind == ir.TokPunct {
			switch t.Value {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
				if depth < 0 {
					return j, j
				}
			case ";":
				if depth == 0 {
					return j, j + 1
				}
			}
		}
		if ps.p.asi && depth == 0 && j+1 < len(toks) && toks[j+1].Span.Start.Line > t.Span.End.Line && !continues(t, toks[j+1]) {
			return j + 1, j + 1
		}
	}
	return len(toks), len(toks)
}

// continues reports whether a line break between prev and next is inside
// one statement for languages with automatic semicolon insertion.
func continues(prev, next ir.Token) bool {
	if prev.Kind == ir.TokOperator || isPunct(prev, ",") || isPunct(prev, "(") || isPunct(prev, "[") || isPunct(prev, "{") {
		return true
	}
	if next.Kind == ir.TokOperator && next.Value != "!" && next.Value != "++" && next.Value != "--" {
		return true
	}
	return isPunct(next, ")") || isPunct(next, "]")
}

func (ps *parser) parseIf(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	open := i + 1
	if open >= len(toks) || !isPunct(toks[open], "(") {
		_, next := ps.stmtEnd(toks, i)
		return nil, next
	}
	closeIdx := matchClose(toks, open)
	st := &ir.Stmt{Kind: ir.StmtIf, Expr: ps.parseExpr(toks[open+1 : closeIdx])}
	body, next := ps.parseBody(toks, closeIdx+1)
	st.Body = body
	if next < len(toks) {
		switch {
		case ps.isKw(toks[next], "elseif"):
			st.Else, next = ps.parseIf(toks, next)
		case ps.isKw(toks[next], "else") && next+1 < len(toks) && ps.isKw(toks[next+1], "if"):
			st.Else, next = ps.parseIf(toks, next+1)
		case ps.isKw(toks[next], "else"):
			st.Else, next = ps.parseBody(toks, next+1)
		}
	}
	st.Span = spanOf(toks[i:min(next, len(toks))])
	st.Closures = closuresIn(st.Expr)
	return []*ir.Stmt{st}, next
}

func (ps *parser) parseLoop(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	kind := strings.ToLower(toks[i].Value)
	open := i + 1
	if open < len(toks) && ps.isKw(toks[open], "await") {
		open++
	}
	if open >= len(toks) || !isPunct(toks[open], "(") {
		_, next := ps.stmtEnd(toks, i)
		return nil, next
	}
	closeIdx := matchClose(toks, open)
	header := toks[open+1 : closeIdx]
	loop := &ir.Loop{Kind: kind}
	var pre, step []*ir.Stmt

	switch {
	case kind == "foreach":
		coll, items := header, []ir.Token(nil)
		for k, t := range header {
			if ps.isKw(t, "as") {
				coll, items = header[:k], header[k+1:]
				break
			}
		}
		loop.Collection = ps.parseExpr(coll)
		loop.Items = ps.boundNames(items)
	case kind == "for" && ps.forInOf(header) >= 0:
		k := ps.forInOf(header)
		loop.Kind = "for-" + strings.ToLower(header[k].Value)
		loop.Collection = ps.parseExpr(header[k+1:])
		loop.Items = ps.boundNames(header[:k])
	case kind == "for":
		parts := splitTop(header, ";")
		if len(parts) > 0 {
			pre = ps.simpleStatement(parts[0])
		}
		if len(parts) > 1 {
			loop.Collection = ps.parseExpr(parts[1])
		}
		if len(parts) > 2 {
			step = ps.simpleStatement(parts[2])
		}
	default:
		loop.Collection = ps.parseExpr(header)
	}
	body, next := ps.parseBody(toks, closeIdx+1)
	st := &ir.Stmt{
		Kind: ir.StmtLoop,
		Loop: loop,
		Expr: loop.Collection,
		Body: append(body, step...),
		Span: spanOf(toks[i:min(next, len(toks))]),
	}
	st.Closures = closuresIn(st.Expr)
	return append(pre, st), next
}

// forInOf returns the index of a top-level `of`/`in` keyword in a JS for header.
func (ps *parser) forInOf(header []ir.Token) int {
	depth := 0
	for k, t := range header {
		if t.Kind == ir.TokPunct {
			switch t.Value {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			case ";":
				return -1
			}
		}
		if depth == 0 && (ps.isKw(t, "of") || ps.isKw(t, "in")) {
			return k
		}
	}
	return -1
}

// boundNames collects variables bound by a loop or destructuring pattern.
func (ps *parser) boundNames(toks []ir.Token) []string {
	var out []string
	for _, t := range toks {
		if t.Kind == ir.TokVariable || (!ps.p.dollarVars && t.Kind == ir.TokIdent) {
			out = append(out, t.Value)
		}
	}
	return out
}

func (ps *parser) parseDo(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	body, next := ps.parseBody(toks, i+1)
	loop := &ir.Loop{Kind: "do"}
	if next < len(toks) && ps.isKw(toks[next], "while") && next+1 < len(toks) && isPunct(toks[next+1], "(") {
		closeIdx := matchClose(toks, next+1)
		loop.Collection = ps.parseExpr(toks[next+2 : closeIdx])
		next = closeIdx + 1
		if next < len(toks) && isPunct(toks[next], ";") {
			next++
		}
	}
	st := &ir.Stmt{Kind: ir.StmtLoop, Loop: loop, Expr: loop.Collection, Body: body, Span: spanOf(toks[i:min(next, len(toks))])}
	return []*ir.Stmt{st}, next
}

func (ps *parser) parseSwitch(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	open := i + 1
	if open >= len(toks) || !isPunct(toks[open], "(") {
		_, next := ps.stmtEnd(toks, i)
		return nil, next
	}
	closeIdx := matchClose(toks, open)
	st := &ir.Stmt{Kind: ir.StmtIf, Expr: ps.parseExpr(toks[open+1 : closeIdx])}
	body, next := ps.parseBody(toks, closeIdx+1)
	st.Body = body
	st.Span = spanOf(toks[i:min(next, len(toks))])
	return []*ir.Stmt{st}, next
}

// parseTry emits the try body as a block, each catch body as a conditional
// branch and the finally body inline.
func (ps *parser) parseTry(toks []ir.Token, i int) ([]*ir.Stmt, int) {
	body, next := ps.parseBody(toks, i+1)
	out := []*ir.Stmt{{Kind: ir.StmtBlock, Body: body, Span: spanOf(toks[i:min(next, len(toks))])}}
	for next < len(toks) && ps.isKw(toks[next], "catch") {
		start := next
		j := next + 1
		if j < len(toks) && isPunct(toks[j], "(") {
			j = matchClose(toks, j) + 1
		}
		var catchBody []*ir.Stmt
		catchBody, next = ps.parseBody(toks, j)
		out = append(out, &ir.Stmt{Kind: ir.StmtIf, Body: catchBody, Span: spanOf(toks[start:min(next, len(toks))])})
	}
	if next < len(toks) && ps.isKw(toks[next], "finally") {
		var fin []*ir.Stmt
		fin, next = ps.parseBody(toks, next+1)
		out = append(out, fin...)
	}
	return out, next
}

func isAssignOp(v string) bool {
	switch v {
	case "=", "=&":
		return true
	case "==", "===", "!=", "!==", "<=", ">=", "<=>", "=>":
		return false
	}
	return len(v) >= 2 && strings.HasSuffix(v, "=") && !strings.HasPrefix(v, "=")
}

// simpleStatement parses expression, assignment, return, throw and output statements.
func (ps *parser) simpleStatement(toks []ir.Token) []*ir.Stmt {
	toks = withoutComments(toks)
	for len(toks) > 0 && isPunct(toks[len(toks)-1], ";") {
		toks = toks[:len(toks)-1]
	}
	if len(toks) == 0 {
		return nil
	}
	span := spanOf(toks)
	first := toks[0]
	if first.Kind == ir.TokKeyword {
		kw := strings.ToLower(first.Value)
		switch {
		case kw == "return":
			st := &ir.Stmt{Kind: ir.StmtReturn, Expr: ps.parseExpr(toks[1:]), Span: span}
			st.Closures = closuresIn(st.Expr)
			return []*ir.Stmt{st}
		case kw == "throw":
			return []*ir.Stmt{{Kind: ir.StmtThrow, Expr: ps.parseExpr(toks[1:]), Span: span}}
		case ps.p.declKeywords[kw]:
			toks = toks[1:]
			if len(toks) == 0 {
				return nil
			}
		case ps.p.constructs[kw] && (len(toks) == 1 || !isPunct(toks[1], "(") || kw == "echo"):
			n := ps.construct(toks)
			return []*ir.Stmt{{Kind: ir.StmtExpr, Expr: &ir.Expr{Nodes: []*ir.Node{n}, Text: n.Text, Span: span}, Span: span}}
		}
	}
	if k := assignIndex(toks); k > 0 {
		value := ps.parseExpr(toks[k+1:])
		op := toks[k].Value
		if op == "=&" {
			op = "="
		}
		var out []*ir.Stmt
		for _, target := range ps.assignTargets(toks[:k]) {
			st := &ir.Stmt{Kind: ir.StmtAssign, Target: target, Op: op, Expr: value, Span: span}
			st.Closures = closuresIn(value)
			out = append(out, st)
		}
		if len(out) > 0 {
			return out
		}
	}
	st := &ir.Stmt{Kind: ir.StmtExpr, Expr: ps.parseExpr(toks), Span: span}
	st.Closures = closuresIn(st.Expr)
	return []*ir.Stmt{st}
}

func assignIndex(toks []ir.Token) int {
	depth := 0
	for i, t := range toks {
		if t.Kind == ir.TokPunct {
			switch t.Value {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
			continue
		}
		if depth == 0 && t.Kind == ir.TokOperator && isAssignOp(t.Value) {
			return i
		}
	}
	return -1
}

// assignTargets returns the variable nodes written by an assignment's left
// side; destructuring patterns yield one node per bound name.
func (ps *parser) assignTargets(lhs []ir.Token) []*ir.Node {
	if len(lhs) == 0 {
		return nil
	}
	destructure := isPunct(lhs[0], "[") || isPunct(lhs[0], "{") || ps.isKw(lhs[0], "list")
	if destructure {
		var out []*ir.Node
		for _, t := range lhs {
			if t.Kind == ir.TokVariable || (!ps.p.dollarVars && t.Kind == ir.TokIdent) {
				out = append(out, &ir.Node{Kind: ir.NodeVar, Path: t.Value, Root: t.Value, Text: t.Value, Span: t.Span})
			}
		}
		return out
	}
	e := ps.parseExpr(lhs)
	if len(e.Nodes) == 0 {
		return nil
	}
	n := e.Nodes[len(e.Nodes)-1]
	if n.Kind == ir.NodeIdent {
		// constants and class fields: keep them addressable by name
		n.Kind = ir.NodeVar
	}
	return []*ir.Node{n}
}

// construct builds a call node for echo/print/include style keywords whose
// arguments are the rest of the statement.
func (ps *parser) construct(toks []ir.Token) *ir.Node {
	call := &ir.Call{Name: strings.ToLower(toks[0].Value), Construct: true, Args: ps.parseArgs(toks[1:]), Text: ps.text(toks), Span: spanOf(toks)}
	return &ir.Node{Kind: ir.NodeCall, Call: call, Path: call.Name + "()", Text: call.Text, Span: call.Span}
}

func closuresIn(e *ir.Expr) []*ir.Closure {
	var out []*ir.Closure
	ir.Inspect(e, func(n *ir.Node) bool {
		if n.Kind == ir.NodeClosure && n.Closure != nil {
			out = append(out, n.Closure)
		}
		return true
	})
	return out
}
