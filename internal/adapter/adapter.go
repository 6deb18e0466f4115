// Package adapter turns PHP and JavaScript source into the ir representation
// the matcher consumes. Tokens come from chroma lexers; a tolerant recursive
// builder on top of them recovers functions, statements, calls and
// assignments with line and column spans.
package adapter

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/taintline/taintline/internal/ir"
)

// Adapter parses one language.
type Adapter interface {
	Language() string
	Extensions() []string
	// Frameworks lists the taint catalog sections that apply to the language.
	Frameworks() []string
	Parse(path string, src []byte) (*ir.File, error)
}

// ParseError reports a file the adapter could not structure.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var (
	ErrUnbalanced = errors.New("unbalanced braces")
)

type tokenAdapter struct {
	p *profile
}

// PHP returns the adapter for PHP sources, including Laravel code.
func PHP() Adapter { return &tokenAdapter{p: phpProfile} }

// JavaScript returns the adapter for Node.js and Express sources.
func JavaScript() Adapter { return &tokenAdapter{p: jsProfile} }

func (a *tokenAdapter) Language() string     { return a.p.name }
func (a *tokenAdapter) Extensions() []string { return append([]string(nil), a.p.extensions...) }
func (a *tokenAdapter) Frameworks() []string { return append([]string(nil), a.p.frameworks...) }

func (a *tokenAdapter) Parse(path string, src []byte) (f *ir.File, err error) {
	// invalid bytes become U+FFFD rather than failing the file
	repaired := !utf8.Valid(src)
	if repaired {
		src = []byte(strings.ToValidUTF8(string(src), string(utf8.RuneError)))
	}
	defer func() {
		if r := recover(); r != nil {
			f, err = nil, &ParseError{Path: path, Err: fmt.Errorf("parser failure: %v", r)}
		}
	}()
	toks, comments, text, err := tokenize(a.p, string(src))
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if line, ok := balanced(toks); !ok {
		return nil, &ParseError{Path: path, Line: line, Err: ErrUnbalanced}
	}
	f = &ir.File{
		Path:     path,
		Language: a.p.name,
		Comments: comments,
		Repaired: repaired,
		Lines:    strings.Split(strings.ReplaceAll(string(src), "\r\n", "\n"), "\n"),
	}
	ps := &parser{p: a.p, src: text, file: f}
	ps.parseFile(toks)
	return f, nil
}

// balanced checks brace nesting; on failure it returns the offending line.
func balanced(toks []ir.Token) (int, bool) {
	var stack []ir.Token
	for _, t := range toks {
		if t.Kind != ir.TokPunct {
			continue
		}
		switch t.Value {
		case "{":
			stack = append(stack, t)
		case "}":
			if len(stack) == 0 {
				return t.Span.Start.Line, false
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		return stack[len(stack)-1].Span.Start.Line, false
	}
	return 0, true
}

// Registry maps file extensions to adapters.
type Registry struct {
	byExt    map[string]Adapter
	adapters []Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byExt: map[string]Adapter{}}
	for _, a := range adapters {
		r.adapters = append(r.adapters, a)
		for _, ext := range a.Extensions() {
			r.byExt[strings.ToLower(ext)] = a
		}
	}
	return r
}

// Default returns a registry with every built-in adapter.
func Default() *Registry { return NewRegistry(PHP(), JavaScript()) }

func (r *Registry) ForPath(path string) (Adapter, bool) {
	a, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return a, ok
}

func (r *Registry) Supported(path string) bool {
	_, ok := r.ForPath(path)
	return ok
}

func (r *Registry) ForLanguage(lang string) (Adapter, bool) {
	for _, a := range r.adapters {
		if strings.EqualFold(a.Language(), lang) {
			return a, true
		}
	}
	return nil, false
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	out := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Language())
	}
	sort.Strings(out)
	return out
}
