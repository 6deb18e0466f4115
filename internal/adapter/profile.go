package adapter

import (
	"regexp"
	"strings"
)

// profile captures the syntax differences between the brace languages the
// structural parser understands.
type profile struct {
	name       string
	lexer      string
	extensions []string
	// frameworks lists the taint catalog sections that apply, most generic first.
	frameworks []string
	keywords   map[string]bool
	// dollarVars marks languages where variables carry a `$` sigil; elsewhere
	// any bare identifier not being called is treated as a variable.
	dollarVars bool
	memberOps  map[string]bool
	staticOp   string
	// callKeywords are keywords that behave like calls when followed by "(".
	callKeywords map[string]bool
	// constructs are keywords that take arguments without parentheses.
	constructs   map[string]bool
	declKeywords map[string]bool
	modifiers    map[string]bool
	casts        map[string]bool
	// interpQuote is the quote character that allows interpolation.
	interpQuote byte
	interpRe    *regexp.Regexp
	// asi enables newline statement termination.
	asi bool
	// Source outside openTags/closeTag regions is blanked before lexing.
	openTags []string
	closeTag string
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

var phpProfile = &profile{
	name:       "php",
	lexer:      "php",
	extensions: []string{".php", ".php3", ".php4", ".php5", ".phtml", ".inc"},
	frameworks: []string{"php", "laravel"},
	keywords: set("abstract", "and", "array", "as", "break", "case", "catch", "class", "clone",
		"const", "continue", "declare", "default", "die", "do", "echo", "else", "elseif", "empty",
		"enddeclare", "endfor", "endforeach", "endif", "endswitch", "endwhile", "enum", "eval", "exit",
		"extends", "final", "finally", "fn", "for", "foreach", "function", "global", "if", "implements",
		"include", "include_once", "instanceof", "interface", "isset", "list", "match", "namespace",
		"new", "or", "print", "private", "protected", "public", "readonly", "require", "require_once",
		"return", "static", "switch", "throw", "trait", "try", "unset", "use", "var", "while", "xor", "yield"),
	dollarVars: true,
	memberOps:  set("->", "?->"),
	staticOp:   "::",
	callKeywords: set("eval", "empty", "isset", "unset", "exit", "die", "print", "array", "list",
		"include", "include_once", "require", "require_once"),
	constructs:   set("echo", "print", "include", "include_once", "require", "require_once"),
	declKeywords: set("global", "static"),
	modifiers:    set("public", "private", "protected", "static", "abstract", "final", "readonly", "var"),
	casts:        set("int", "integer", "float", "double", "real", "bool", "boolean"),
	interpQuote:  '"',
	interpRe:     regexp.MustCompile(`\$[A-Za-z_]\w*(?:->[A-Za-z_]\w*)*`),
	openTags:     []string{"<?php", "<?=", "<?"},
	closeTag:     "?>",
}

var jsProfile = &profile{
	name:       "javascript",
	lexer:      "javascript",
	extensions: []string{".js", ".mjs", ".cjs", ".jsx"},
	frameworks: []string{"node", "express"},
	keywords: set("async", "await", "break", "case", "catch", "class", "const", "continue",
		"default", "delete", "do", "else", "export", "extends", "finally", "for", "function", "if",
		"import", "in", "instanceof", "let", "new", "of", "return", "static", "switch", "throw",
		"try", "typeof", "var", "void", "while", "yield"),
	memberOps:    set(".", "?."),
	callKeywords: set(),
	constructs:   set(),
	declKeywords: set("const", "let", "var"),
	modifiers:    set("static", "async", "get", "set"),
	casts:        set(),
	interpQuote:  '`',
	interpRe:     regexp.MustCompile(`\$\{\s*([A-Za-z_$][\w$]*(?:\.[A-Za-z_$][\w$]*)*)`),
	asi:          true,
}

var profiles = []*profile{phpProfile, jsProfile}

func (p *profile) isKeyword(v string) bool { return p.keywords[strings.ToLower(v)] }

// interpolated extracts the access paths referenced inside a string literal.
func (p *profile) interpolated(lit string) []string {
	if len(lit) < 2 || lit[0] != p.interpQuote {
		return nil
	}
	body := strings.ReplaceAll(lit, `\$`, "")
	var out []string
	for _, m := range p.interpRe.FindAllStringSubmatch(body, -1) {
		v := m[0]
		if len(m) > 1 && m[1] != "" {
			v = m[1]
		}
		out = append(out, v)
	}
	return out
}
