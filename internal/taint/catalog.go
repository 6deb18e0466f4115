// Package taint implements the intraprocedural taint tracker and the
// source/sink/sanitizer catalog it is driven by.
package taint

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/taintline/taintline/internal/ir"
)

// SourceParameter is the built-in source category for function parameters
// that are untyped or string typed.
const SourceParameter = "parameter"

//go:embed catalog.yaml
var builtinCatalog []byte

type SourceDef struct {
	Vars  []string `yaml:"vars"`
	Calls []string `yaml:"calls"`
}

type SinkDef struct {
	Call string `yaml:"call"`
	// Args lists the zero-based argument positions that carry the value;
	// empty means every argument.
	Args []int `yaml:"args"`
	// SafeArg marks the call safe when the call text matches.
	SafeArg string `yaml:"safe_arg"`
}

type SanitizerDef struct {
	Call     string `yaml:"call"`
	Strength string `yaml:"strength"`
	// Guard sanitizers also clean their first argument when used as the
	// condition of a branch.
	Guard bool `yaml:"guard"`
}

type Framework struct {
	Sources    map[string]SourceDef      `yaml:"sources"`
	Sinks      map[string][]SinkDef      `yaml:"sinks"`
	Sanitizers map[string][]SanitizerDef `yaml:"sanitizers"`
	// Neutral calls return values that never carry taint.
	Neutral []string `yaml:"neutral"`
}

// Catalog is the registry of taint entries keyed by (framework, category).
// It is read-only after load.
type Catalog struct {
	Frameworks map[string]*Framework `yaml:"frameworks"`
}

func LoadCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode taint catalog: %w", err)
	}
	if len(c.Frameworks) == 0 {
		return nil, errors.New("taint catalog defines no frameworks")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func BuiltinCatalog() (*Catalog, error) {
	return LoadCatalog(bytes.NewReader(builtinCatalog))
}

func (c *Catalog) validate() error {
	var errs []error
	for _, name := range c.FrameworkNames() {
		fw := c.Frameworks[name]
		if fw == nil {
			continue
		}
		for cat, src := range fw.Sources {
			for _, call := range src.Calls {
				if _, err := ParseCallPattern(call); err != nil {
					errs = append(errs, fmt.Errorf("%s source %s: %w", name, cat, err))
				}
			}
		}
		for cat, sinks := range fw.Sinks {
			for _, s := range sinks {
				if _, err := ParseCallPattern(s.Call); err != nil {
					errs = append(errs, fmt.Errorf("%s sink %s: %w", name, cat, err))
				}
				if s.SafeArg != "" {
					if _, err := regexp.Compile(s.SafeArg); err != nil {
						errs = append(errs, fmt.Errorf("%s sink %s safe_arg: %w", name, cat, err))
					}
				}
			}
		}
		for cat, sans := range fw.Sanitizers {
			for _, s := range sans {
				if _, err := ParseCallPattern(s.Call); err != nil {
					errs = append(errs, fmt.Errorf("%s sanitizer %s: %w", name, cat, err))
				}
				if s.Strength != "full" && s.Strength != "partial" {
					errs = append(errs, fmt.Errorf("%s sanitizer %s %s: strength must be full or partial", name, cat, s.Call))
				}
			}
		}
		for _, n := range fw.Neutral {
			if _, err := ParseCallPattern(n); err != nil {
				errs = append(errs, fmt.Errorf("%s neutral: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Catalog) FrameworkNames() []string {
	out := make([]string, 0, len(c.Frameworks))
	for k := range c.Frameworks {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) HasSource(cat string) bool {
	if cat == SourceParameter {
		return true
	}
	for _, fw := range c.Frameworks {
		if _, ok := fw.Sources[cat]; ok {
			return true
		}
	}
	return false
}

func (c *Catalog) HasSink(cat string) bool {
	for _, fw := range c.Frameworks {
		if _, ok := fw.Sinks[cat]; ok {
			return true
		}
	}
	return false
}

// HasSanitizer accepts any sink category as well as explicitly declared
// sanitizer categories.
func (c *Catalog) HasSanitizer(cat string) bool {
	if c.HasSink(cat) {
		return true
	}
	for _, fw := range c.Frameworks {
		if _, ok := fw.Sanitizers[cat]; ok {
			return true
		}
	}
	return false
}

type compiledSink struct {
	category string
	pattern  CallPattern
	args     []int
	safe     *regexp.Regexp
}

type compiledSanitizer struct {
	category string
	pattern  CallPattern
	full     bool
	guard    bool
}

type compiledSource struct {
	category string
	vars     []VarPattern
	calls    []CallPattern
}

// View is the merged, compiled catalog for an ordered list of frameworks.
type View struct {
	frameworks []string
	sources    []compiledSource
	sinks      []compiledSink
	sanitizers []compiledSanitizer
	neutral    []CallPattern
	// bits assigns each sanitizer category a bit in flow masks.
	bits map[string]uint64
}

// View compiles the entries of the named frameworks. Unknown names are
// ignored so a language can list optional frameworks.
func (c *Catalog) View(frameworks ...string) *View {
	v := &View{frameworks: frameworks, bits: map[string]uint64{}}
	bySource := map[string]int{}
	for _, name := range frameworks {
		fw := c.Frameworks[name]
		if fw == nil {
			continue
		}
		for _, cat := range sortedKeys(fw.Sources) {
			def := fw.Sources[cat]
			idx, ok := bySource[cat]
			if !ok {
				idx = len(v.sources)
				bySource[cat] = idx
				v.sources = append(v.sources, compiledSource{category: cat})
			}
			for _, p := range def.Vars {
				v.sources[idx].vars = append(v.sources[idx].vars, VarPattern(p))
			}
			for _, p := range def.Calls {
				cp, _ := ParseCallPattern(p)
				v.sources[idx].calls = append(v.sources[idx].calls, cp)
			}
		}
		for _, cat := range sortedKeys(fw.Sinks) {
			for _, s := range fw.Sinks[cat] {
				cp, _ := ParseCallPattern(s.Call)
				cs := compiledSink{category: cat, pattern: cp, args: s.Args}
				if s.SafeArg != "" {
					cs.safe = regexp.MustCompile(s.SafeArg)
				}
				v.sinks = append(v.sinks, cs)
			}
			v.bit(cat)
		}
		for _, cat := range sortedKeys(fw.Sanitizers) {
			v.bit(cat)
			for _, s := range fw.Sanitizers[cat] {
				cp, _ := ParseCallPattern(s.Call)
				v.sanitizers = append(v.sanitizers, compiledSanitizer{category: cat, pattern: cp, full: s.Strength == "full", guard: s.Guard})
			}
		}
		for _, n := range fw.Neutral {
			cp, _ := ParseCallPattern(n)
			v.neutral = append(v.neutral, cp)
		}
	}
	return v
}

func (v *View) bit(cat string) uint64 {
	if b, ok := v.bits[cat]; ok {
		return b
	}
	if len(v.bits) >= 64 {
		return 0
	}
	b := uint64(1) << uint(len(v.bits))
	v.bits[cat] = b
	return b
}

// VarSource returns the source category of an access path, or "".
func (v *View) VarSource(path string) string {
	for _, src := range v.sources {
		for _, p := range src.vars {
			if p.Matches(path) {
				return src.category
			}
		}
	}
	return ""
}

// CallSource returns the source category a call's result belongs to, or "".
func (v *View) CallSource(c *ir.Call) string {
	for _, src := range v.sources {
		for _, p := range src.calls {
			if p.Matches(c) {
				return src.category
			}
		}
	}
	return ""
}

func (v *View) Frameworks() []string { return append([]string(nil), v.frameworks...) }

func sortedKeys[M ~map[string]V, V any](m M) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
