// Package ir is the normalized structural representation that language
// adapters produce and the matcher and taint tracker consume. It is
// deliberately small: functions made of statements, statements made of flat
// expressions, expressions made of operand nodes.
package ir

import (
	"fmt"
	"strings"
)

type Pos struct {
	Line   int
	Column int
}

type Span struct {
	Start Pos
	End   Pos
}

func (s Span) String() string { return fmt.Sprintf("%d:%d", s.Start.Line, s.Start.Column) }

// Before reports whether s starts strictly before o.
func (s Span) Before(o Span) bool {
	if s.Start.Line != o.Start.Line {
		return s.Start.Line < o.Start.Line
	}
	return s.Start.Column < o.Start.Column
}

// Cover returns the smallest span containing both.
func Cover(a, b Span) Span {
	out := a
	if b.Before(a) {
		out.Start = b.Start
	}
	if out.End.Line < b.End.Line || (out.End.Line == b.End.Line && out.End.Column < b.End.Column) {
		out.End = b.End
	}
	return out
}

type TokenKind int

const (
	TokIdent TokenKind = iota
	TokVariable
	TokKeyword
	TokString
	TokNumber
	TokOperator
	TokPunct
	TokComment
)

// Token is a lexical token after normalization: punctuation split per
// character, string pieces merged into one literal, comments kept.
type Token struct {
	Kind  TokenKind
	Value string
	Span  Span
	// Offset and End are byte offsets into the source.
	Offset int
	End    int
	// Interp holds the access paths interpolated into a string literal.
	Interp []string
}

func (t Token) Is(kind TokenKind, value string) bool {
	return t.Kind == kind && t.Value == value
}

type NodeKind int

const (
	NodeVar NodeKind = iota
	NodeIdent
	NodeCall
	NodeString
	NodeNumber
	NodeCast
	NodeGroup
	NodeClosure
)

// Node is one operand inside an expression.
type Node struct {
	Kind NodeKind
	Text string
	// Path is the full access path for NodeVar ("$user->id", "req.query.id")
	// and Root its leading variable ("$user", "req").
	Path string
	Root string
	// Index holds subscript expressions of a NodeVar (`$_GET['id']`).
	Index []*Expr
	Call  *Call
	// Interp lists the access paths interpolated into a NodeString.
	Interp []string
	// Cast is the target type of a NodeCast; its operand is Children[0].
	Cast     string
	Children []*Expr
	Closure  *Closure
	Span     Span
}

// Call is a function, method, static, constructor or language-construct call.
type Call struct {
	Name      string
	Receiver  string
	Recv      *Node
	Static    bool
	New       bool
	Construct bool
	Args      []*Expr
	Text      string
	Span      Span
}

// Callee renders the call target without arguments, e.g. "User::find" or
// "$this->db->query".
func (c *Call) Callee() string {
	switch {
	case c.Receiver == "":
		return c.Name
	case c.Static:
		return c.Receiver + "::" + c.Name
	default:
		return c.Receiver + "." + c.Name
	}
}

// Method reports whether the call has an object receiver.
func (c *Call) Method() bool { return c.Receiver != "" && !c.Static }

// ArgText returns the source text of every argument joined by ", ".
func (c *Call) ArgText() string {
	parts := make([]string, 0, len(c.Args))
	for _, a := range c.Args {
		parts = append(parts, a.Text)
	}
	return strings.Join(parts, ", ")
}

// Expr is a flat run of operands separated by operators.
type Expr struct {
	Nodes []*Node
	Ops   []string
	Text  string
	Span  Span
}

type StmtKind int

const (
	StmtExpr StmtKind = iota
	StmtAssign
	StmtIf
	StmtLoop
	StmtReturn
	StmtThrow
	StmtBlock
)

func (k StmtKind) String() string {
	return [...]string{"expr", "assign", "if", "loop", "return", "throw", "block"}[k]
}

type Stmt struct {
	Kind StmtKind
	// Target and Op describe an assignment (`$q = ...`, `$q .= ...`).
	Target *Node
	Op     string
	// Expr is the assigned value, the condition, the loop header or the bare expression.
	Expr *Expr
	Body []*Stmt
	// Else holds else/elseif branches and catch bodies.
	Else []*Stmt
	Loop *Loop
	// Closures are anonymous function bodies appearing in Expr.
	Closures []*Closure
	Span     Span
}

// Terminates reports whether the statement list unconditionally leaves the
// enclosing function (return, throw, or an exit-like call).
func Terminates(stmts []*Stmt) bool {
	for _, s := range stmts {
		switch s.Kind {
		case StmtReturn, StmtThrow:
			return true
		case StmtExpr:
			if s.Expr != nil && len(s.Expr.Nodes) == 1 && s.Expr.Nodes[0].Kind == NodeCall {
				switch strings.ToLower(s.Expr.Nodes[0].Call.Name) {
				case "exit", "die", "abort":
					return true
				}
			}
		case StmtIf:
			if Terminates(s.Body) && len(s.Else) > 0 && Terminates(s.Else) {
				return true
			}
		}
	}
	return false
}

type Loop struct {
	Kind       string
	Collection *Expr
	// Items are the per-iteration variables bound by the header.
	Items []string
}

type Param struct {
	Name string
	Type string
	Span Span
}

type Closure struct {
	Params []Param
	Body   []*Stmt
	Span   Span
}

// Function is one analysis scope. Top-level code and class property
// initializers are collected into synthetic functions.
type Function struct {
	Name       string
	Class      string
	Params     []Param
	ReturnType string
	Doc        string
	Body       []*Stmt
	Span       Span
	NameSpan   Span
	Synthetic  bool
	// Tokens is the raw body token stream, used for fingerprints.
	Tokens []Token
}

// QualifiedName is "Class::name" for methods and "name" otherwise.
func (f *Function) QualifiedName() string {
	if f.Class != "" {
		return f.Class + "::" + f.Name
	}
	return f.Name
}

// Param returns the parameter with the given name, if declared.
func (f *Function) Param(name string) (Param, bool) {
	for _, p := range f.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

type Class struct {
	Name     string
	NameSpan Span
	Span     Span
}

type Comment struct {
	Text string
	Span Span
}

// File is everything an adapter extracted from one source file.
type File struct {
	Path      string
	Language  string
	Functions []*Function
	Classes   []*Class
	Comments  []Comment
	Lines     []string
	// Repaired is set when invalid UTF-8 was replaced before lexing.
	Repaired bool
}

// Line returns the trimmed source line n (1-based), or "".
func (f *File) Line(n int) string {
	if n < 1 || n > len(f.Lines) {
		return ""
	}
	return strings.TrimSpace(f.Lines[n-1])
}

// Suppressed reports whether a comment containing marker sits on line or
// the line directly above it.
func (f *File) Suppressed(line int, marker string) bool {
	for _, c := range f.Comments {
		if !strings.Contains(c.Text, marker) {
			continue
		}
		if c.Span.End.Line == line || c.Span.End.Line == line-1 || c.Span.Start.Line == line {
			return true
		}
	}
	return false
}

// FunctionAt returns the innermost non-synthetic function whose span covers line.
func (f *File) FunctionAt(line int) *Function {
	var best *Function
	for _, fn := range f.Functions {
		if fn.Span.Start.Line <= line && line <= fn.Span.End.Line {
			if best == nil || best.Synthetic || (!fn.Synthetic && fn.Span.Start.Line >= best.Span.Start.Line) {
				best = fn
			}
		}
	}
	return best
}
