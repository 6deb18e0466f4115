// Package remediation maps remediation ids to the canonical secure pattern
// for a rule and renders finding messages.
package remediation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/taintline/taintline/internal/types"
)

//go:embed remediations.yaml
var builtinYAML []byte

// Pattern is one canonical fix.
type Pattern struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	ExampleFix  string   `yaml:"example_fix"`
	References  []string `yaml:"references"`
}

// Remediation converts the pattern into the form attached to findings.
func (p Pattern) Remediation() *types.Remediation {
	return &types.Remediation{
		ID:          p.ID,
		Description: p.Description,
		ExampleFix:  p.ExampleFix,
		References:  append([]string(nil), p.References...),
	}
}

type file struct {
	Remediations []Pattern `yaml:"remediations"`
}

// Mapper is read-only after Load.
type Mapper struct {
	byID map[string]Pattern
}

// Load parses a remediation catalog. Ids must be unique and every entry
// needs a description.
func Load(r io.Reader) (*Mapper, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f file
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode remediations: %w", err)
	}
	m := &Mapper{byID: make(map[string]Pattern, len(f.Remediations))}
	var errs []error
	for i, p := range f.Remediations {
		p.ID = strings.TrimSpace(p.ID)
		switch {
		case p.ID == "":
			errs = append(errs, fmt.Errorf("remediation #%d: missing id", i))
			continue
		case strings.TrimSpace(p.Description) == "":
			errs = append(errs, fmt.Errorf("remediation %s: missing description", p.ID))
		}
		if _, dup := m.byID[p.ID]; dup {
			errs = append(errs, fmt.Errorf("remediation %s: duplicate id", p.ID))
			continue
		}
		p.ExampleFix = strings.TrimRight(p.ExampleFix, "\n")
		m.byID[p.ID] = p
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return m, nil
}

var (
	builtinOnce sync.Once
	builtin     *Mapper
	builtinErr  error
)

// Builtin returns the embedded catalog.
func Builtin() (*Mapper, error) {
	builtinOnce.Do(func() {
		builtin, builtinErr = Load(bytes.NewReader(builtinYAML))
	})
	return builtin, builtinErr
}

func (m *Mapper) Resolve(id string) (Pattern, bool) {
	p, ok := m.byID[id]
	return p, ok
}

// IDs lists every known remediation id in sorted order.
func (m *Mapper) IDs() []string {
	out := make([]string, 0, len(m.byID))
	for id := range m.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (m *Mapper) Len() int { return len(m.byID) }

// MessageData is what message templates can reference.
type MessageData struct {
	Rule     string
	Category string
	Source   string
	Sink     string
	Callee   string
	Detail   string
}

// Parse compiles a message template. Unknown fields fail at execution,
// so Check runs it once against a populated value.
func Parse(tmpl string) (*template.Template, error) {
	return template.New("message").Option("missingkey=error").Parse(tmpl)
}

// Check verifies a template parses and only references MessageData fields.
func Check(tmpl string) error {
	t, err := Parse(tmpl)
	if err != nil {
		return err
	}
	return t.Execute(io.Discard, MessageData{Rule: "r", Category: "c", Source: "s", Sink: "k", Callee: "f", Detail: "d"})
}

// Render executes tmpl against data.
func Render(tmpl string, data MessageData) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return Execute(t, data)
}

// Execute runs an already parsed template.
func Execute(t *template.Template, data MessageData) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}
