package taint

import (
	"fmt"
	"strings"

	"github.com/taintline/taintline/internal/ir"
)

// CallPattern matches a call site. Forms:
//
//	name        plain function call
//	new Name    constructor
//	*.name      method on any receiver
//	recv.name   method on a receiver whose path is or ends with recv
//	*::name     static call on any class
//	Class::name static call on Class (namespace ignored)
type CallPattern struct {
	Raw      string
	Name     string
	Receiver string
	Static   bool
	Method   bool
	New      bool
}

func ParseCallPattern(s string) (CallPattern, error) {
	raw := strings.TrimSpace(s)
	p := CallPattern{Raw: raw}
	switch {
	case raw == "":
		return p, fmt.Errorf("empty call pattern")
	case strings.HasPrefix(raw, "new "):
		p.New = true
		p.Name = strings.TrimSpace(strings.TrimPrefix(raw, "new "))
	case strings.Contains(raw, "::"):
		i := strings.LastIndex(raw, "::")
		p.Static = true
		p.Receiver, p.Name = raw[:i], raw[i+2:]
	case strings.Contains(raw, "."):
		i := strings.LastIndex(raw, ".")
		p.Method = true
		p.Receiver, p.Name = raw[:i], raw[i+1:]
	default:
		p.Name = raw
	}
	if p.Name == "" || (p.Static || p.Method) && p.Receiver == "" {
		return p, fmt.Errorf("malformed call pattern %q", raw)
	}
	return p, nil
}

func lastSegment(s string) string {
	s = strings.TrimPrefix(s, "\\")
	if i := strings.LastIndex(s, "\\"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// receiverMatches compares a receiver path against a pattern receiver. The
// path matches when equal or when its trailing member segment is equal.
func receiverMatches(path, want string) bool {
	if want == "*" {
		return true
	}
	if strings.EqualFold(path, want) {
		return true
	}
	for _, sep := range []string{"->", ".", "::"} {
		if strings.HasSuffix(strings.ToLower(path), strings.ToLower(sep+want)) {
			return true
		}
	}
	return false
}

func (p CallPattern) Matches(c *ir.Call) bool {
	if c == nil || !strings.EqualFold(c.Name, p.Name) {
		return false
	}
	switch {
	case p.New:
		return c.New
	case p.Static:
		return c.Static && (p.Receiver == "*" || strings.EqualFold(lastSegment(c.Receiver), p.Receiver))
	case p.Method:
		return !c.Static && !c.New && c.Receiver != "" && receiverMatches(c.Receiver, p.Receiver)
	default:
		return !c.New && c.Receiver == ""
	}
}

// VarPattern matches variable access paths: an exact root or prefix
// ("$_GET", "req.query"), or a trailing member ("*.stack").
type VarPattern string

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		switch {
		case strings.HasPrefix(path[i:], "->"):
			parts = append(parts, path[start:i])
			i++
			start = i + 1
		case path[i] == '.':
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	return append(parts, path[start:])
}

func (v VarPattern) Matches(path string) bool {
	pat := string(v)
	if strings.HasPrefix(pat, "*.") {
		parts := splitPath(path)
		return len(parts) > 1 && parts[len(parts)-1] == pat[2:]
	}
	if path == pat {
		return true
	}
	if !strings.HasPrefix(path, pat) {
		return false
	}
	rest := path[len(pat):]
	return strings.HasPrefix(rest, ".") || strings.HasPrefix(rest, "->") || strings.HasPrefix(rest, "[")
}

// prefixes returns path and each of its member prefixes, longest first.
func prefixes(path string) []string {
	out := []string{path}
	for i := len(path) - 1; i > 0; i-- {
		switch {
		case path[i] == '.':
			out = append(out, path[:i])
		case path[i] == '>' && path[i-1] == '-':
			out = append(out, path[:i-1])
			i--
		}
	}
	return out
}
