package adapter

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/taintline/taintline/internal/ir"
)

type rawToken struct {
	typ   chroma.TokenType
	value string
	start int
	end   int
}

// lexer tracks byte offsets and converts them to 1-based line/column positions.
type lexer struct {
	src        string
	lineStarts []int
}

func newLexer(src string) *lexer {
	lx := &lexer{src: src, lineStarts: []int{0}}
	for i := 0; i < len(src); i++ {
		if src[i] == '\n' {
			lx.lineStarts = append(lx.lineStarts, i+1)
		}
	}
	return lx
}

func (lx *lexer) pos(off int) ir.Pos {
	lo, hi := 0, len(lx.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lx.lineStarts[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return ir.Pos{Line: lo + 1, Column: off - lx.lineStarts[lo] + 1}
}

func (lx *lexer) span(start, end int) ir.Span {
	last := end - 1
	if last < start {
		last = start
	}
	e := lx.pos(last)
	e.Column++
	return ir.Span{Start: lx.pos(start), End: e}
}

// blankInline replaces everything outside the code regions delimited by
// open/close tags (inline HTML in PHP templates) and the tags themselves with
// spaces. Newlines are kept so positions stay stable.
func blankInline(src string, open []string, closeTag string) string {
	if len(open) == 0 {
		return src
	}
	b := []byte(src)
	blank := func(from, to int) {
		for j := from; j < to; j++ {
			if b[j] != '\n' {
				b[j] = ' '
			}
		}
	}
	i := 0
	for i < len(src) {
		at, tagLen := -1, 0
		for _, tag := range open {
			if k := strings.Index(src[i:], tag); k >= 0 && (at < 0 || i+k < at || (i+k == at && len(tag) > tagLen)) {
				at, tagLen = i+k, len(tag)
			}
		}
		if at < 0 {
			blank(i, len(src))
			break
		}
		blank(i, at+tagLen)
		i = at + tagLen
		k := strings.Index(src[i:], closeTag)
		if k < 0 {
			break
		}
		blank(i+k, i+k+len(closeTag))
		i += k + len(closeTag)
	}
	return string(b)
}

// tokenize runs the chroma lexer for p over src and normalizes the stream.
// The returned string is the text token offsets refer to.
func tokenize(p *profile, src string) ([]ir.Token, []ir.Comment, string, error) {
	lex := lexers.Get(p.lexer)
	if lex == nil {
		return nil, nil, "", fmt.Errorf("no lexer registered for %s", p.lexer)
	}
	src = blankInline(src, p.openTags, p.closeTag)
	it, err := lex.Tokenise(nil, src)
	if err != nil {
		return nil, nil, "", err
	}
	var raw []rawToken
	off := 0
	for tok := it(); tok != chroma.EOF; tok = it() {
		if tok.Value == "" {
			continue
		}
		end := off + len(tok.Value)
		if end > len(src) {
			// ensure_nl appends a trailing newline the source never had
			end = len(src)
		}
		if off < end {
			raw = append(raw, rawToken{typ: tok.Type, value: src[off:end], start: off, end: end})
		}
		off += len(tok.Value)
	}
	lx := newLexer(src)
	toks, comments := normalize(p, lx, raw)
	return toks, comments, src, nil
}

func isWordish(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '$' || r == '\\' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r > 127) {
			return false
		}
	}
	return true
}

func isQuote(c byte) bool { return c == '"' || c == '\'' || c == '`' }

const punctChars = "[]{}();,"

func normalize(p *profile, lx *lexer, raw []rawToken) ([]ir.Token, []ir.Comment) {
	var (
		toks     []ir.Token
		comments []ir.Comment
	)
	emit := func(kind ir.TokenKind, start, end int) {
		toks = append(toks, ir.Token{Kind: kind, Value: lx.src[start:end], Span: lx.span(start, end), Offset: start, End: end})
	}
	for i := 0; i < len(raw); i++ {
		rt := raw[i]
		v := rt.value
		switch {
		case strings.TrimSpace(v) == "":
			continue
		case rt.typ.InCategory(chroma.Comment) || rt.typ == chroma.LiteralStringDoc:
			text := strings.TrimRight(v, "\r\n")
			end := rt.start + len(text)
			comments = append(comments, ir.Comment{Text: text, Span: lx.span(rt.start, end)})
			emit(ir.TokComment, rt.start, end)
		case rt.typ.InSubCategory(chroma.LiteralString) && isQuote(v[0]):
			end := rt.end
			if len(v) == 1 || !closedString(v) {
				// multi-token string: consume until the matching closing quote token
				q := v[0]
				for i+1 < len(raw) {
					i++
					end = raw[i].end
					if raw[i].value == string(q) && raw[i].typ.InSubCategory(chroma.LiteralString) {
						break
					}
				}
			}
			lit := lx.src[rt.start:end]
			toks = append(toks, ir.Token{Kind: ir.TokString, Value: lit, Span: lx.span(rt.start, end), Offset: rt.start, End: end, Interp: p.interpolated(lit)})
		case rt.typ.InCategory(chroma.Literal) && rt.typ.InSubCategory(chroma.LiteralNumber):
			emit(ir.TokNumber, rt.start, rt.end)
		case rt.typ.InCategory(chroma.Literal):
			emit(ir.TokString, rt.start, rt.end)
		case isWordish(strings.TrimSpace(v)):
			start, end := rt.start, rt.end
			// chroma splits some identifiers (e.g. child_process in JS); rejoin touching words
			for i+1 < len(raw) && raw[i+1].start == end && isWordish(raw[i+1].value) && !raw[i+1].typ.InCategory(chroma.Comment) && !raw[i+1].typ.InCategory(chroma.Literal) {
				i++
				end = raw[i].end
			}
			word := lx.src[start:end]
			kind := ir.TokIdent
			switch {
			case p.dollarVars && strings.HasPrefix(word, "$"):
				kind = ir.TokVariable
			case p.isKeyword(word):
				kind = ir.TokKeyword
			}
			emit(kind, start, end)
		default:
			splitSymbols(v, rt.start, func(kind ir.TokenKind, s, e int) { emit(kind, s, e) })
		}
	}
	return mergeOperators(toks), comments
}

// closedString reports whether a single string token contains its own closing quote.
func closedString(v string) bool {
	if len(v) < 2 {
		return false
	}
	q := v[0]
	if v[len(v)-1] != q {
		return false
	}
	escapes := 0
	for j := len(v) - 2; j > 0 && v[j] == '\\'; j-- {
		escapes++
	}
	return escapes%2 == 0
}

// splitSymbols breaks a symbol run into single punctuation characters and
// operator runs.
func splitSymbols(v string, base int, emit func(ir.TokenKind, int, int)) {
	opStart := -1
	flush := func(i int) {
		if opStart >= 0 {
			emit(ir.TokOperator, base+opStart, base+i)
			opStart = -1
		}
	}
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush(i)
		case strings.IndexByte(punctChars, c) >= 0:
			flush(i)
			emit(ir.TokPunct, base+i, base+i+1)
		default:
			if opStart < 0 {
				opStart = i
			}
		}
	}
	flush(len(v))
}

// mergeOperators joins operator pieces the lexers emit separately, such as
// "?" "->" into "?->" and "?" "?" into "??".
func mergeOperators(toks []ir.Token) []ir.Token {
	out := toks[:0]
	for _, t := range toks {
		if n := len(out); n > 0 && t.Kind == ir.TokOperator && out[n-1].Kind == ir.TokOperator && out[n-1].End == t.Offset {
			prev := out[n-1].Value
			if prev == "?" && (t.Value == "->" || t.Value == "." || t.Value == "?" || t.Value == "?=") {
				out[n-1].Value += t.Value
				out[n-1].End = t.End
				out[n-1].Span.End = t.Span.End
				continue
			}
		}
		out = append(out, t)
	}
	return out
}
