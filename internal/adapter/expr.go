package adapter

import (
	"strings"

	"github.com/taintline/taintline/internal/ir"
)

// parseExpr flattens toks into operand nodes separated by operators.
func (ps *parser) parseExpr(toks []ir.Token) *ir.Expr {
	toks = withoutComments(toks)
	e := &ir.Expr{Text: ps.text(toks), Span: spanOf(toks)}
	for i := 0; i < len(toks); {
		t := toks[i]
		if t.Kind == ir.TokOperator {
			e.Ops = append(e.Ops, t.Value)
			i++
			continue
		}
		n, next := ps.parsePrimary(toks, i)
		if n != nil {
			e.Nodes = append(e.Nodes, n)
		}
		if next <= i {
			next = i + 1
		}
		i = next
	}
	return e
}

func (ps *parser) parseArgs(toks []ir.Token) []*ir.Expr {
	var out []*ir.Expr
	for _, part := range splitTop(toks, ",") {
		if len(part) == 0 {
			continue
		}
		out = append(out, ps.parseExpr(part))
	}
	return out
}

func (ps *parser) parsePrimary(toks []ir.Token, i int) (*ir.Node, int) {
	t := toks[i]
	switch t.Kind {
	case ir.TokString:
		n := &ir.Node{Kind: ir.NodeString, Text: t.Value, Interp: t.Interp, Span: t.Span}
		return ps.postfix(toks, i, i+1, n)
	case ir.TokNumber:
		return &ir.Node{Kind: ir.NodeNumber, Text: t.Value, Span: t.Span}, i + 1
	case ir.TokPunct:
		return ps.parseBracketed(toks, i)
	case ir.TokKeyword:
		return ps.parseKeyword(toks, i)
	case ir.TokVariable, ir.TokIdent:
		if !ps.p.dollarVars && t.Kind == ir.TokIdent && i+1 < len(toks) && isOp(toks[i+1], "=>") {
			return ps.parseArrow(toks, i, []ir.Param{{Name: t.Value, Span: t.Span}}, i+2)
		}
		name := strings.TrimPrefix(t.Value, "\\")
		n := &ir.Node{Kind: ir.NodeVar, Text: t.Value, Path: name, Root: name, Span: t.Span}
		if ps.p.dollarVars && t.Kind == ir.TokIdent {
			n.Kind = ir.NodeIdent
		}
		return ps.postfix(toks, i, i+1, n)
	}
	return nil, i + 1
}

func (ps *parser) parseBracketed(toks []ir.Token, i int) (*ir.Node, int) {
	t := toks[i]
	switch t.Value {
	case "(":
		closeIdx := matchClose(toks, i)
		inner := toks[i+1 : closeIdx]
		if len(inner) == 1 && (inner[0].Kind == ir.TokIdent || inner[0].Kind == ir.TokKeyword) &&
			ps.p.casts[strings.ToLower(inner[0].Value)] && closeIdx+1 < len(toks) {
			operand, next := ps.parsePrimary(toks, closeIdx+1)
			n := &ir.Node{Kind: ir.NodeCast, Cast: strings.ToLower(inner[0].Value), Text: ps.text(toks[i:min(next, len(toks))]), Span: spanOf(toks[i:min(next, len(toks))])}
			if operand != nil {
				n.Children = []*ir.Expr{{Nodes: []*ir.Node{operand}, Text: operand.Text, Span: operand.Span}}
			}
			return n, next
		}
		if !ps.p.dollarVars && closeIdx+1 < len(toks) && isOp(toks[closeIdx+1], "=>") {
			return ps.parseArrow(toks, i, ps.parseParams(inner), closeIdx+2)
		}
		n := &ir.Node{Kind: ir.NodeGroup, Children: []*ir.Expr{ps.parseExpr(inner)}, Text: ps.text(toks[i : closeIdx+1]), Span: spanOf(toks[i : closeIdx+1])}
		return ps.postfix(toks, i, closeIdx+1, n)
	case "[", "{":
		closeIdx := matchClose(toks, i)
		n := &ir.Node{Kind: ir.NodeGroup, Text: ps.text(toks[i : closeIdx+1]), Span: spanOf(toks[i : closeIdx+1])}
		for _, el := range splitTop(toks[i+1:closeIdx], ",") {
			if len(el) == 0 {
				continue
			}
			n.Children = append(n.Children, ps.parseExpr(el))
		}
		return ps.postfix(toks, i, closeIdx+1, n)
	}
	return nil, i + 1
}

func (ps *parser) parseKeyword(toks []ir.Token, i int) (*ir.Node, int) {
	kw := strings.ToLower(toks[i].Value)
	hasParen := i+1 < len(toks) && isPunct(toks[i+1], "(")
	switch {
	case kw == "function":
		return ps.parseClosure(toks, i)
	case kw == "fn" && hasParen:
		closeIdx := matchClose(toks, i+1)
		if closeIdx+1 < len(toks) && isOp(toks[closeIdx+1], "=>") {
			return ps.parseArrow(toks, i, ps.parseParams(toks[i+2:closeIdx]), closeIdx+2)
		}
		return nil, closeIdx + 1
	case kw == "new":
		return ps.parseNew(toks, i)
	case ps.p.callKeywords[kw] && hasParen:
		closeIdx := matchClose(toks, i+1)
		call := &ir.Call{
			Name:      kw,
			Construct: ps.p.constructs[kw],
			Args:      ps.parseArgs(toks[i+2 : closeIdx]),
			Text:      ps.text(toks[i : closeIdx+1]),
			Span:      spanOf(toks[i : closeIdx+1]),
		}
		if kw == "array" || kw == "list" {
			n := &ir.Node{Kind: ir.NodeGroup, Children: call.Args, Text: call.Text, Span: call.Span}
			return n, closeIdx + 1
		}
		n := &ir.Node{Kind: ir.NodeCall, Call: call, Path: kw + "()", Text: call.Text, Span: call.Span}
		return ps.postfix(toks, i, closeIdx+1, n)
	case ps.p.constructs[kw]:
		return ps.construct(toks[i:]), len(toks)
	case kw == "exit" || kw == "die":
		call := &ir.Call{Name: kw, Construct: true, Text: toks[i].Value, Span: toks[i].Span}
		return &ir.Node{Kind: ir.NodeCall, Call: call, Path: kw + "()", Text: call.Text, Span: call.Span}, i + 1
	case kw == "static" || kw == "parent":
		n := &ir.Node{Kind: ir.NodeIdent, Text: toks[i].Value, Path: toks[i].Value, Root: toks[i].Value, Span: toks[i].Span}
		return ps.postfix(toks, i, i+1, n)
	}
	return nil, i + 1
}

// parseNew handles `new Name(args)`, `new \Ns\Name`, and `new a.b.C(args)`.
func (ps *parser) parseNew(toks []ir.Token, i int) (*ir.Node, int) {
	j := i + 1
	var parts []string
	for j < len(toks) {
		t := toks[j]
		if t.Kind == ir.TokIdent || t.Kind == ir.TokKeyword || t.Kind == ir.TokVariable {
			parts = append(parts, strings.TrimPrefix(t.Value, "\\"))
			j++
			if j < len(toks) && toks[j].Kind == ir.TokOperator && ps.p.memberOps[toks[j].Value] {
				j++
				continue
			}
		}
		break
	}
	if len(parts) == 0 {
		return nil, j
	}
	call := &ir.Call{Name: parts[len(parts)-1], Receiver: strings.Join(parts[:len(parts)-1], "."), New: true}
	end := j
	if j < len(toks) && isPunct(toks[j], "(") {
		closeIdx := matchClose(toks, j)
		call.Args = ps.parseArgs(toks[j+1 : closeIdx])
		end = closeIdx + 1
	}
	call.Text = ps.text(toks[i:end])
	call.Span = spanOf(toks[i:end])
	n := &ir.Node{Kind: ir.NodeCall, Call: call, Path: "new " + call.Name + "()", Text: call.Text, Span: call.Span}
	return ps.postfix(toks, i, end, n)
}

// parseClosure parses an anonymous (or named, nested) `function` expression
// starting at toks[i].
func (ps *parser) parseClosure(toks []ir.Token, i int) (*ir.Node, int) {
	j := i + 1
	if j < len(toks) && (isOp(toks[j], "&") || isOp(toks[j], "*")) {
		j++
	}
	if j < len(toks) && toks[j].Kind == ir.TokIdent {
		j++
	}
	if j >= len(toks) || !isPunct(toks[j], "(") {
		return nil, j
	}
	closeIdx := matchClose(toks, j)
	params := ps.parseParams(toks[j+1 : closeIdx])
	k := closeIdx + 1
	if k+1 < len(toks) && ps.isKw(toks[k], "use") && isPunct(toks[k+1], "(") {
		k = matchClose(toks, k+1) + 1
	}
	if k < len(toks) && isOp(toks[k], ":") {
		for k < len(toks) && !isPunct(toks[k], "{") {
			k++
		}
	}
	if k >= len(toks) || !isPunct(toks[k], "{") {
		return nil, k
	}
	end := matchClose(toks, k)
	cl := &ir.Closure{Params: params, Body: ps.parseBlock(toks[k+1 : end]), Span: spanOf(toks[i : end+1])}
	n := &ir.Node{Kind: ir.NodeClosure, Closure: cl, Text: ps.text(toks[i : end+1]), Span: cl.Span}
	return ps.postfix(toks, i, end+1, n)
}

// parseArrow builds a closure from an arrow body starting at toks[body]. An
// expression body runs to the end of toks, since callers split arguments first.
func (ps *parser) parseArrow(toks []ir.Token, start int, params []ir.Param, body int) (*ir.Node, int) {
	cl := &ir.Closure{Params: params}
	end := len(toks)
	switch {
	case body >= len(toks):
	case isPunct(toks[body], "{"):
		closeIdx := matchClose(toks, body)
		cl.Body = ps.parseBlock(toks[body+1 : closeIdx])
		end = closeIdx + 1
	default:
		ret := ps.parseExpr(toks[body:])
		cl.Body = []*ir.Stmt{{Kind: ir.StmtReturn, Expr: ret, Span: ret.Span, Closures: closuresIn(ret)}}
	}
	cl.Span = spanOf(toks[start:end])
	return &ir.Node{Kind: ir.NodeClosure, Closure: cl, Text: ps.text(toks[start:end]), Span: cl.Span}, end
}

func accessPath(n *ir.Node) string {
	switch n.Kind {
	case ir.NodeVar, ir.NodeIdent, ir.NodeCall:
		return n.Path
	}
	return n.Text
}

// postfix extends node with member access, static access, subscripts and
// calls. start is the index of the chain's first token.
func (ps *parser) postfix(toks []ir.Token, start, j int, node *ir.Node) (*ir.Node, int) {
	for j < len(toks) {
		t := toks[j]
		switch {
		case t.Kind == ir.TokOperator && (ps.p.memberOps[t.Value] || (ps.p.staticOp != "" && t.Value == ps.p.staticOp)):
			if j+1 >= len(toks) {
				return node, j + 1
			}
			nameTok := toks[j+1]
			if nameTok.Kind != ir.TokIdent && nameTok.Kind != ir.TokKeyword && nameTok.Kind != ir.TokVariable {
				return node, j
			}
			static := t.Value == ps.p.staticOp
			name := nameTok.Value
			op := t.Value
			if op == "?->" {
				op = "->"
			} else if op == "?." {
				op = "."
			}
			if j+2 < len(toks) && isPunct(toks[j+2], "(") {
				closeIdx := matchClose(toks, j+2)
				call := &ir.Call{
					Name:     name,
					Receiver: accessPath(node),
					Recv:     node,
					Static:   static,
					Args:     ps.parseArgs(toks[j+3 : closeIdx]),
					Text:     ps.text(toks[start : closeIdx+1]),
					Span:     spanOf(toks[start : closeIdx+1]),
				}
				node = &ir.Node{Kind: ir.NodeCall, Call: call, Path: accessPath(node) + op + name + "()", Root: node.Root, Text: call.Text, Span: call.Span}
				j = closeIdx + 1
				continue
			}
			kind := ir.NodeVar
			if static && nameTok.Kind != ir.TokVariable {
				kind = ir.NodeIdent
			}
			node = &ir.Node{
				Kind: kind,
				Path: accessPath(node) + op + name,
				Root: node.Root,
				Text: ps.text(toks[start : j+2]),
				Span: spanOf(toks[start : j+2]),
			}
			j += 2
		case isPunct(t, "["):
			closeIdx := matchClose(toks, j)
			node.Index = append(node.Index, ps.parseExpr(toks[j+1:closeIdx]))
			node.Text = ps.text(toks[start : closeIdx+1])
			node.Span = spanOf(toks[start : closeIdx+1])
			j = closeIdx + 1
		case isPunct(t, "("):
			closeIdx := matchClose(toks, j)
			call := &ir.Call{
				Args: ps.parseArgs(toks[j+1 : closeIdx]),
				Text: ps.text(toks[start : closeIdx+1]),
				Span: spanOf(toks[start : closeIdx+1]),
			}
			switch node.Kind {
			case ir.NodeVar, ir.NodeIdent:
				call.Name = node.Path
				if ps.p.dollarVars && node.Kind == ir.NodeVar {
					// dynamic call through a variable
					call.Recv = node
				}
			default:
				call.Recv = node
			}
			node = &ir.Node{Kind: ir.NodeCall, Call: call, Path: call.Name + "()", Root: node.Root, Text: call.Text, Span: call.Span}
			j = closeIdx + 1
		default:
			return node, j
		}
	}
	return node, j
}
