package engine

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/matcher"
	"github.com/taintline/taintline/internal/remediation"
	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/severity"
	"github.com/taintline/taintline/internal/taint"
)

// Config controls scope, performance and rule selection.
type Config struct {
	Root            string
	IncludeGlobs    string
	ExcludeGlobs    string
	MaxBytes        int64
	Threads         int
	RulesPath       string
	EnableRules     string
	DisableRules    string
	DefaultExcludes bool
	NoCache         bool
	// Progress is called once per finished file, from worker goroutines.
	Progress func()
}

func (c Config) threads() int {
	if c.Threads <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Threads
}

// Result is what Scan and ScanSources return.
type Result struct {
	SessionID string
	Report    findings.Report
	Duration  time.Duration
	Rules     *rules.RuleSet
}

type options struct {
	logger       *zap.Logger
	registry     *adapter.Registry
	catalog      *taint.Catalog
	remediations *remediation.Mapper
	classifier   severity.Classifier
	sources      map[string][]byte
}

type Option func(*options)

// WithLogger routes internal diagnostics to l. The default discards them.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

func WithRegistry(r *adapter.Registry) Option { return func(o *options) { o.registry = r } }

func WithCatalog(c *taint.Catalog) Option { return func(o *options) { o.catalog = c } }

func WithRemediations(m *remediation.Mapper) Option {
	return func(o *options) { o.remediations = m }
}

func WithClassifier(c severity.Classifier) Option { return func(o *options) { o.classifier = c } }

// WithSources makes the session scan in-memory files keyed by relative path
// instead of walking cfg.Root.
func WithSources(files map[string][]byte) Option { return func(o *options) { o.sources = files } }

func resolve(opts []Option) (options, error) {
	o := options{logger: zap.NewNop(), registry: adapter.Default(), classifier: severity.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.catalog == nil {
		c, err := taint.BuiltinCatalog()
		if err != nil {
			return o, fmt.Errorf("load taint catalog: %w", err)
		}
		o.catalog = c
	}
	if o.remediations == nil {
		m, err := remediation.Builtin()
		if err != nil {
			return o, fmt.Errorf("load remediations: %w", err)
		}
		o.remediations = m
	}
	return o, nil
}

// LoadRules reads cfg.RulesPath (or the builtin pack) and applies the
// enable/disable selection. Errors are *rules.DefinitionError for invalid
// packs.
func LoadRules(cfg Config, opts ...Option) (*rules.RuleSet, error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	return loadRules(cfg, o)
}

func loadRules(cfg Config, o options) (*rules.RuleSet, error) {
	var (
		pack rules.Pack
		err  error
	)
	if cfg.RulesPath != "" {
		pack, err = rules.ReadPack(cfg.RulesPath)
	} else {
		pack, err = rules.Builtin()
	}
	if err != nil {
		return nil, err
	}
	rs, err := rules.LoadPack(pack, rules.LoadOptions{
		Classifier:   o.classifier,
		Remediations: o.remediations,
		Catalog:      o.catalog,
		Patterns:     matcher.Library{},
		Languages:    o.registry.Languages(),
	})
	if err != nil {
		return nil, err
	}
	if cfg.EnableRules == "" && cfg.DisableRules == "" {
		return rs, nil
	}
	return rs.Select(splitList(cfg.EnableRules), splitList(cfg.DisableRules))
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return []string{s}
}

// Scan loads rules, runs one session over cfg.Root and returns its report.
func Scan(ctx context.Context, cfg Config, opts ...Option) (Result, error) {
	o, err := resolve(opts)
	if err != nil {
		return Result{}, err
	}
	rs, err := loadRules(cfg, o)
	if err != nil {
		return Result{}, err
	}
	return run(ctx, cfg, rs, opts)
}

// ScanSources scans in-memory files keyed by relative path. Nothing is read
// from disk and the result cache is not used.
func ScanSources(ctx context.Context, cfg Config, files map[string][]byte, opts ...Option) (Result, error) {
	o, err := resolve(opts)
	if err != nil {
		return Result{}, err
	}
	rs, err := loadRules(cfg, o)
	if err != nil {
		return Result{}, err
	}
	cfg.NoCache = true
	return run(ctx, cfg, rs, append(opts, WithSources(files)))
}

func run(ctx context.Context, cfg Config, rs *rules.RuleSet, opts []Option) (Result, error) {
	s, err := NewSession(cfg, rs, opts...)
	if err != nil {
		return Result{}, err
	}
	if err := s.Run(ctx); err != nil {
		return Result{}, err
	}
	rep, err := s.Report()
	if err != nil {
		return Result{}, err
	}
	if err := s.Close(); err != nil {
		return Result{}, err
	}
	return Result{SessionID: s.ID(), Report: rep, Duration: s.Duration(), Rules: rs}, nil
}
