package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalNames are searched in order in the scan root.
var LocalNames = []string{".taintline.yml", ".taintline.yaml", "taintline.yml", "taintline.yaml"}

// FileConfig is the on-disk YAML configuration shape. Pointer fields
// distinguish "unset" from zero values so that precedence can be applied.
type FileConfig struct {
	Include         *string `yaml:"include,omitempty"`
	Exclude         *string `yaml:"exclude,omitempty"`
	MaxBytes        *int64  `yaml:"max_bytes,omitempty"`
	Threads         *int    `yaml:"threads,omitempty"`
	MinSeverity     *string `yaml:"min_severity,omitempty"`
	Rules           *string `yaml:"rules,omitempty"`
	Enable          *string `yaml:"enable,omitempty"`
	Disable         *string `yaml:"disable,omitempty"`
	NoColor         *bool   `yaml:"no_color,omitempty"`
	DefaultExcludes *bool   `yaml:"default_excludes,omitempty"`
	Baseline        *string `yaml:"baseline,omitempty"`
	Notify          *Notify `yaml:"notify,omitempty"`
}

// Notify configures the post-scan webhook.
type Notify struct {
	Webhook     *string `yaml:"webhook,omitempty"`
	MinSeverity *string `yaml:"min_severity,omitempty"`
}

// LoadFile reads a YAML config file from the provided path. Unknown keys are
// errors.
func LoadFile(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, err
	}
	return cfg, nil
}

// LoadLocal searches for a repo-local config file in the given root.
func LoadLocal(repoRoot string) (FileConfig, error) {
	var cfg FileConfig
	for _, name := range LocalNames {
		p := filepath.Join(repoRoot, name)
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}
	return cfg, errors.New("no local config")
}

// GlobalPath returns $XDG_CONFIG_HOME/taintline/config.yml, falling back to
// ~/.config.
func GlobalPath() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		if home != "" {
			base = filepath.Join(home, ".config")
		}
	}
	if base == "" {
		return "", errors.New("no config dir")
	}
	return filepath.Join(base, "taintline", "config.yml"), nil
}

// LoadGlobal loads the global config file.
func LoadGlobal() (FileConfig, error) {
	var cfg FileConfig
	p, err := GlobalPath()
	if err != nil {
		return cfg, err
	}
	if _, err := os.Stat(p); err == nil {
		return LoadFile(p)
	}
	return cfg, errors.New("no global config")
}

// Merge overlays o onto c: every field set in o wins.
func (c FileConfig) Merge(o FileConfig) FileConfig {
	out := c
	set := func(dst **string, src *string) {
		if src != nil {
			*dst = src
		}
	}
	set(&out.Include, o.Include)
	set(&out.Exclude, o.Exclude)
	set(&out.MinSeverity, o.MinSeverity)
	set(&out.Rules, o.Rules)
	set(&out.Enable, o.Enable)
	set(&out.Disable, o.Disable)
	set(&out.Baseline, o.Baseline)
	if o.MaxBytes != nil {
		out.MaxBytes = o.MaxBytes
	}
	if o.Threads != nil {
		out.Threads = o.Threads
	}
	if o.NoColor != nil {
		out.NoColor = o.NoColor
	}
	if o.DefaultExcludes != nil {
		out.DefaultExcludes = o.DefaultExcludes
	}
	if o.Notify != nil {
		n := Notify{}
		if out.Notify != nil {
			n = *out.Notify
		}
		set(&n.Webhook, o.Notify.Webhook)
		set(&n.MinSeverity, o.Notify.MinSeverity)
		out.Notify = &n
	}
	return out
}

// Resolve merges the global and then the local config found under root.
// Missing files are not errors; malformed ones are.
func Resolve(root string) (FileConfig, error) {
	var cfg FileConfig
	if p, err := GlobalPath(); err == nil {
		if _, err := os.Stat(p); err == nil {
			g, err := LoadFile(p)
			if err != nil {
				return cfg, err
			}
			cfg = cfg.Merge(g)
		}
	}
	for _, name := range LocalNames {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			l, err := LoadFile(p)
			if err != nil {
				return cfg, err
			}
			return cfg.Merge(l), nil
		}
	}
	return cfg, nil
}

// Template is the starter file written by `taintline config init`.
const Template = `# taintline configuration
# include: "app/**,src/**"
# exclude: "**/tests/**"
max_bytes: 1048576
min_severity: high
default_excludes: true
# threads: 8
# rules: ./rules.yml
# enable: sql-injection,reflected-xss
# disable: magic-number
# baseline: taintline.baseline.json
# notify:
#   webhook: https://hooks.example.com/T000/B000
#   min_severity: critical
`

// WriteTemplate creates .taintline.yml under root. It refuses to overwrite
// unless force is set.
func WriteTemplate(root string, force bool) (string, error) {
	p := filepath.Join(root, LocalNames[0])
	if !force {
		if _, err := os.Stat(p); err == nil {
			return p, os.ErrExist
		}
	}
	return p, os.WriteFile(p, []byte(Template), 0o644)
}
