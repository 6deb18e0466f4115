package engine

import (
	"path/filepath"
	"strings"

	doublestar "github.com/bmatcuk/doublestar/v4"
)

var defaultExcludeDirs = map[string]bool{
	".git":             true,
	"node_modules":     true,
	"vendor":           true,
	"bower_components": true,
	"dist":             true,
	"build":            true,
	"out":              true,
	"coverage":         true,
	"storage":          true,
	".next":            true,
	".nuxt":            true,
	".cache":           true,
}

// suffixes treated as generated or bundled output when default excludes are enabled
var defaultExcludeFileSuffixes = []string{
	".min.js", ".bundle.js", ".map",
	".blade.php.cache",
}

// exact filenames commonly safe to exclude when default excludes enabled
var defaultExcludeFileNames = map[string]bool{
	"_ide_helper.php":        true,
	"_ide_helper_models.php": true,
	".phpstorm.meta.php":     true,
}

func isDefaultDirExcluded(name string) bool {
	return defaultExcludeDirs[name] || strings.HasPrefix(name, ".git")
}

func isDefaultFileExcluded(lowerRel string) bool {
	for _, s := range defaultExcludeFileSuffixes {
		if strings.HasSuffix(lowerRel, s) {
			return true
		}
	}
	parts := strings.Split(lowerRel, "/")
	return defaultExcludeFileNames[parts[len(parts)-1]]
}

// allowedByGlobs returns true if the given path is allowed by the include/exclude
// glob configuration. Include globs are comma-separated and, if provided, act as
// a positive filter. Exclude globs are subtracted last.
func allowedByGlobs(relPath string, cfg Config) bool {
	rp := filepath.ToSlash(relPath)
	includes := parseGlobsList(cfg.IncludeGlobs)
	excludes := parseGlobsList(cfg.ExcludeGlobs)
	if len(includes) > 0 && !matchAnyGlob(rp, includes) {
		return false
	}
	if len(excludes) > 0 && matchAnyGlob(rp, excludes) {
		return false
	}
	return true
}

func parseGlobsList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p, trimGlobPrefix(p))
		}
	}
	return out
}

func matchAnyGlob(pathToMatch string, globs []string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, pathToMatch); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, filepath.Base(pathToMatch)); ok {
			return true
		}
	}
	return false
}

func trimGlobPrefix(g string) string {
	s := strings.TrimPrefix(g, "./")
	for strings.HasPrefix(s, "**/") {
		s = strings.TrimPrefix(s, "**/")
	}
	return s
}
