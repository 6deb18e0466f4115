package core

import (
	"context"

	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/types"
)

// Type aliases keep the public surface stable while the engine evolves.
type (
	Config     = engine.Config
	Finding    = types.Finding
	Severity   = types.Severity
	Report     = findings.Report
	Comparison = engine.Comparison
)

// Scan runs one session over cfg.Root.
func Scan(ctx context.Context, cfg Config) (Report, error) {
	res, err := engine.Scan(ctx, cfg)
	if err != nil {
		return Report{}, err
	}
	return res.Report, nil
}

// ScanSources scans in-memory files keyed by relative path.
func ScanSources(ctx context.Context, cfg Config, files map[string][]byte) (Report, error) {
	res, err := engine.ScanSources(ctx, cfg, files)
	if err != nil {
		return Report{}, err
	}
	return res.Report, nil
}

// Diff compares two in-memory versions of a source set.
func Diff(ctx context.Context, cfg Config, before, after map[string][]byte) (Comparison, error) {
	return engine.Compare(ctx, cfg, before, after)
}

// RuleIDs lists the rules cfg selects.
func RuleIDs(cfg Config) ([]string, error) {
	rs, err := engine.LoadRules(cfg)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, rs.Len())
	for _, r := range rs.All() {
		ids = append(ids, r.ID)
	}
	return ids, nil
}
