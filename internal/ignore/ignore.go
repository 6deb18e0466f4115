// Package ignore reads .taintlineignore files: one doublestar glob per line,
// '#' comments, a trailing '/' for directories and a leading '!' to re-include.
package ignore

import (
	"bufio"
	"os"
	"path"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

// FileName is looked up in the scan root.
const FileName = ".taintlineignore"

type rule struct {
	glob   string
	dir    bool
	negate bool
}

// Matcher is immutable after Load. The zero value matches nothing.
type Matcher struct {
	rules []rule
}

// Load reads patterns from path. A missing file yields an empty matcher and
// the os error.
func Load(p string) (Matcher, error) {
	f, err := os.Open(p)
	if err != nil {
		return Matcher{}, err
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return Matcher{}, err
	}
	return Parse(lines), nil
}

// Parse builds a matcher from already-split lines.
func Parse(lines []string) Matcher {
	var m Matcher
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") {
			continue
		}
		var r rule
		if strings.HasPrefix(l, "!") {
			r.negate = true
			l = l[1:]
		}
		if strings.HasSuffix(l, "/") {
			r.dir = true
			l = strings.TrimSuffix(l, "/")
		}
		r.glob = strings.TrimPrefix(l, "/")
		if r.glob != "" && doublestar.ValidatePattern(r.glob) {
			m.rules = append(m.rules, r)
		}
	}
	return m
}

// Match reports whether rel (slash-separated, relative to the root) is
// ignored. The last matching rule wins.
func (m Matcher) Match(rel string) bool {
	rel = strings.TrimPrefix(strings.ReplaceAll(rel, "\\", "/"), "./")
	ignored := false
	for _, r := range m.rules {
		if r.matches(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r rule) matches(rel string) bool {
	if r.dir {
		// any directory component of rel
		dir := path.Dir(rel)
		for dir != "." && dir != "/" && dir != "" {
			if globMatch(r.glob, dir) {
				return true
			}
			dir = path.Dir(dir)
		}
		return false
	}
	if globMatch(r.glob, rel) {
		return true
	}
	if !strings.Contains(r.glob, "/") {
		return globMatch(r.glob, path.Base(rel))
	}
	return false
}

func globMatch(glob, p string) bool {
	if ok, _ := doublestar.Match(glob, p); ok {
		return true
	}
	if !strings.Contains(glob, "/") {
		ok, _ := doublestar.Match(glob, path.Base(p))
		return ok
	}
	return false
}
