package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/taintline/taintline/internal/findings"
)

// Comparison is the outcome of diff mode: both scans and the
// classification of every finding instance between them.
type Comparison struct {
	Before Result
	After  Result
	Diff   findings.DiffResult
}

// Clean reports whether nothing regressed and nothing stayed unresolved.
func (c Comparison) Clean() bool { return c.Diff.Clean() }

// Compare runs one rule set over two in-memory versions of a source set.
// Files keep their relative paths as keys, so a file is compared with the
// file of the same path on the other side.
func Compare(ctx context.Context, cfg Config, before, after map[string][]byte, opts ...Option) (Comparison, error) {
	o, err := resolve(opts)
	if err != nil {
		return Comparison{}, err
	}
	rs, err := loadRules(cfg, o)
	if err != nil {
		return Comparison{}, err
	}
	cfg.NoCache = true

	side := func(files map[string][]byte) (Result, error) {
		if files == nil {
			files = map[string][]byte{}
		}
		withSrc := make([]Option, 0, len(opts)+1)
		withSrc = append(withSrc, opts...)
		return run(ctx, cfg, rs, append(withSrc, WithSources(files)))
	}
	b, err := side(before)
	if err != nil {
		return Comparison{}, err
	}
	a, err := side(after)
	if err != nil {
		return Comparison{}, err
	}
	d := findings.Diff(b.Report.Findings, a.Report.Findings)
	o.logger.Debug("diff complete",
		zap.Int("verified", len(d.Verified)),
		zap.Int("unresolved", len(d.Unresolved)),
		zap.Int("regressions", len(d.Regressions)))
	return Comparison{Before: b, After: a, Diff: d}, nil
}
