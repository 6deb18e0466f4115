package adapter

import (
	"strings"

	"github.com/taintline/taintline/internal/ir"
)

// parser builds functions, statements and expressions from a normalized
// token stream. It is tolerant: anything it does not understand is skipped
// rather than reported, since the analyses only need calls, assignments,
// loops and conditions.
type parser struct {
	p    *profile
	src  string
	file *ir.File
}

func isPunct(t ir.Token, v string) bool { return t.Kind == ir.TokPunct && t.Value == v }

func isOp(t ir.Token, v string) bool { return t.Kind == ir.TokOperator && t.Value == v }

func (ps *parser) isKw(t ir.Token, v string) bool {
	return t.Kind == ir.TokKeyword && strings.EqualFold(t.Value, v)
}

// matchClose returns the index of the bracket closing toks[i], or len(toks)-1.
func matchClose(toks []ir.Token, i int) int {
	open := toks[i].Value
	var closing string
	switch open {
	case "(":
		closing = ")"
	case "[":
		closing = "]"
	case "{":
		closing = "}"
	default:
		return i
	}
	depth := 0
	for j := i; j < len(toks); j++ {
		if toks[j].Kind != ir.TokPunct {
			continue
		}
		switch toks[j].Value {
		case open:
			depth++
		case closing:
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return len(toks) - 1
}

// splitTop splits toks on a punctuation separator at bracket depth zero.
func splitTop(toks []ir.Token, sep string) [][]ir.Token {
	var (
		out   [][]ir.Token
		depth int
		start int
	)
	for i, t := range toks {
		if t.Kind != ir.TokPunct {
			continue
		}
		switch t.Value {
		case "(", "[", "{":
			depth++
		case ")", "]", "}":
			depth--
		case sep:
			if depth == 0 {
				out = append(out, toks[start:i])
				start = i + 1
			}
		}
	}
	if start < len(toks) {
		out = append(out, toks[start:])
	}
	return out
}

func withoutComments(toks []ir.Token) []ir.Token {
	out := make([]ir.Token, 0, len(toks))
	for _, t := range toks {
		if t.Kind != ir.TokComment {
			out = append(out, t)
		}
	}
	return out
}

func (ps *parser) text(toks []ir.Token) string {
	if len(toks) == 0 {
		return ""
	}
	return strings.TrimSpace(ps.src[toks[0].Offset:toks[len(toks)-1].End])
}

func spanOf(toks []ir.Token) ir.Span {
	if len(toks) == 0 {
		return ir.Span{}
	}
	return ir.Span{Start: toks[0].Span.Start, End: toks[len(toks)-1].Span.End}
}

// parseFile splits the token stream into classes, named functions and
// top-level statements.
func (ps *parser) parseFile(toks []ir.Token) {
	main := &ir.Function{Name: "<main>", Synthetic: true}
	var top []ir.Token
	doc := ""
	for i := 0; i < len(toks); i++ {
		t := toks[i]
		switch {
		case t.Kind == ir.TokComment:
			if strings.HasPrefix(t.Value, "/**") {
				doc = t.Value
			}
			continue
		case ps.isKw(t, "export"):
			if i+1 < len(toks) && ps.isKw(toks[i+1], "default") {
				i++
			}
			continue
		case ps.isKw(t, "class") || ps.isKw(t, "interface") || ps.isKw(t, "trait"):
			if i+1 < len(toks) && toks[i+1].Kind == ir.TokIdent {
				i = ps.parseClass(toks, i)
				doc = ""
				continue
			}
		case ps.isKw(t, "function") && i+1 < len(toks) && toks[i+1].Kind == ir.TokIdent && len(top) > 0 && !ps.statementBoundary(top[len(top)-1], t):
			// function expression inside a statement; leave it to the expression parser
		case ps.isKw(t, "function") && i+1 < len(toks) && toks[i+1].Kind == ir.TokIdent:
			fn, next := ps.parseFunction(toks, i, "", doc)
			if fn != nil {
				ps.file.Functions = append(ps.file.Functions, fn)
			}
			i = next
			doc = ""
			continue
		case ps.isKw(t, "async") && i+2 < len(toks) && ps.isKw(toks[i+1], "function") && toks[i+2].Kind == ir.TokIdent:
			fn, next := ps.parseFunction(toks, i+1, "", doc)
			if fn != nil {
				ps.file.Functions = append(ps.file.Functions, fn)
			}
			i = next
			doc = ""
			continue
		}
		if !ps.p.modifiers[strings.ToLower(t.Value)] {
			doc = ""
		}
		top = append(top, t)
	}
	if len(top) > 0 {
		main.Body = ps.parseBlock(top)
		main.Span = spanOf(top)
		main.Tokens = top
		ps.file.Functions = append([]*ir.Function{main}, ps.file.Functions...)
	}
}

// statementBoundary reports whether next starts a new statement after prev.
func (ps *parser) statementBoundary(prev, next ir.Token) bool {
	if prev.Kind == ir.TokPunct && (prev.Value == ";" || prev.Value == "}" || prev.Value == "{") {
		return true
	}
	return ps.p.asi && next.Span.Start.Line > prev.Span.End.Line && !continues(prev, next)
}

// parseClass parses `class Name ... { members }` starting at toks[i] and
// returns the index of the closing brace.
func (ps *parser) parseClass(toks []ir.Token, i int) int {
	start := toks[i]
	nameTok := toks[i+1]
	j := i + 2
	for j < len(toks) && !isPunct(toks[j], "{") {
		j++
	}
	if j >= len(toks) {
		return len(toks) - 1
	}
	end := matchClose(toks, j)
	cls := &ir.Class{
		Name:     strings.TrimPrefix(nameTok.Value, "\\"),
		NameSpan: nameTok.Span,
		Span:     ir.Span{Start: start.Span.Start, End: toks[end].Span.End},
	}
	ps.file.Classes = append(ps.file.Classes, cls)

	body := toks[j+1 : end]
	init := &ir.Function{Name: "<init>", Class: cls.Name, Synthetic: true, Span: cls.Span}
	var member []ir.Token
	doc := ""
	for k := 0; k < len(body); k++ {
		t := body[k]
		switch {
		case t.Kind == ir.TokComment:
			if strings.HasPrefix(t.Value, "/**") {
				doc = t.Value
			}
			continue
		case ps.p.modifiers[strings.ToLower(t.Value)] && (t.Kind == ir.TokKeyword || t.Kind == ir.TokIdent):
			if k+1 < len(body) && (isPunct(body[k+1], "(") || isOp(body[k+1], "=")) {
				break // a method or field that happens to be called get/set/static
			}
			continue
		case ps.isKw(t, "function") && k+1 < len(body):
			fn, next := ps.parseFunction(body, k, cls.Name, doc)
			if fn != nil {
				ps.file.Functions = append(ps.file.Functions, fn)
			}
			k = next
			doc = ""
			member = member[:0]
			continue
		case !ps.p.dollarVars && t.Kind == ir.TokIdent && len(member) == 0 && k+1 < len(body) && isPunct(body[k+1], "("):
			// JS method shorthand: name(params) { ... }
			close := matchClose(body, k+1)
			if close+1 < len(body) && isPunct(body[close+1], "{") {
				fn, next := ps.parseFunction(body, k-1, cls.Name, doc)
				if fn != nil {
					ps.file.Functions = append(ps.file.Functions, fn)
				}
				k = next
				doc = ""
				continue
			}
		case ps.isKw(t, "use") && len(member) == 0:
			// trait import
			for k < len(body) && !isPunct(body[k], ";") {
				k++
			}
			continue
		}
		if isPunct(t, ";") {
			if len(member) > 0 {
				init.Body = append(init.Body, ps.parseBlock(append(member, t))...)
				init.Tokens = append(init.Tokens, member...)
			}
			member = member[:0]
			doc = ""
			continue
		}
		if ps.isKw(t, "const") {
			continue
		}
		member = append(member, t)
	}
	if len(init.Body) > 0 {
		ps.file.Functions = append(ps.file.Functions, init)
	}
	return end
}

// parseFunction parses a named function whose `function` keyword is at
// toks[i] (or, for JS method shorthand, whose name is at toks[i+1]).
// It returns the function and the index of its last token.
func (ps *parser) parseFunction(toks []ir.Token, i int, class, doc string) (*ir.Function, int) {
	nameIdx := i + 1
	if nameIdx >= len(toks) {
		return nil, len(toks) - 1
	}
	if isOp(toks[nameIdx], "&") || isOp(toks[nameIdx], "*") {
		nameIdx++
	}
	if nameIdx+1 >= len(toks) || !isPunct(toks[nameIdx+1], "(") {
		return nil, nameIdx
	}
	nameTok := toks[nameIdx]
	pOpen := nameIdx + 1
	pClose := matchClose(toks, pOpen)
	fn := &ir.Function{
		Name:     nameTok.Value,
		Class:    class,
		Doc:      doc,
		NameSpan: nameTok.Span,
		Params:   ps.parseParams(toks[pOpen+1 : pClose]),
	}
	start := nameTok
	if i >= 0 && i < nameIdx && toks[i].Kind == ir.TokKeyword {
		start = toks[i]
	}
	j := pClose + 1
	if j < len(toks) && (isOp(toks[j], ":") || isPunct(toks[j], ":")) {
		k := j + 1
		for k < len(toks) && !isPunct(toks[k], "{") && !isPunct(toks[k], ";") {
			k++
		}
		fn.ReturnType = strings.TrimSpace(ps.text(toks[j+1 : k]))
		j = k
	}
	if j >= len(toks) || !isPunct(toks[j], "{") {
		// abstract or interface method: nothing to analyse
		for j < len(toks) && !isPunct(toks[j], ";") {
			j++
		}
		return nil, j
	}
	end := matchClose(toks, j)
	bodyToks := toks[j+1 : end]
	fn.Tokens = withoutComments(bodyToks)
	fn.Body = ps.parseBlock(bodyToks)
	fn.Span = ir.Span{Start: start.Span.Start, End: toks[end].Span.End}
	return fn, end
}

// parseParams handles `int $id`, `?string $name = null`, `...$rest`, `&$ref`,
// and JS `a`, `b = 1`, `{ x, y }`.
func (ps *parser) parseParams(toks []ir.Token) []ir.Param {
	var out []ir.Param
	for _, part := range splitTop(withoutComments(toks), ",") {
		if eq := indexOp(part, "="); eq >= 0 {
			part = part[:eq]
		}
		if len(part) == 0 {
			continue
		}
		if ps.p.dollarVars {
			for k, t := range part {
				if t.Kind == ir.TokVariable {
					typ := strings.TrimSpace(ps.text(part[:k]))
					typ = strings.TrimPrefix(strings.TrimPrefix(typ, "?"), "\\")
					for _, m := range []string{"public ", "private ", "protected ", "readonly "} {
						typ = strings.TrimPrefix(typ, m)
					}
					out = append(out, ir.Param{Name: t.Value, Type: strings.TrimSpace(typ), Span: t.Span})
					break
				}
			}
			continue
		}
		for _, t := range part {
			if t.Kind == ir.TokIdent {
				out = append(out, ir.Param{Name: t.Value, Span: t.Span})
			}
		}
	}
	return out
}

func indexOp(toks []ir.Token, op string) int {
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
		if depth == 0 && isOp(t, op) {
			return i
		}
	}
	return -1
}
