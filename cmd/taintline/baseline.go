package taintline

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taintline/taintline/internal/config"
	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/report"
)

func newBaselineCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Manage baselines",
	}
	sf := &scopeFlags{}
	update := &cobra.Command{
		Use:   "update [path]",
		Short: "Accept every current finding into the baseline",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := absDir(args)
			if err != nil {
				return fatal(err)
			}
			fc, err := config.Resolve(root)
			if err != nil {
				return fatal(fmt.Errorf("config: %w", err))
			}
			log, err := newLogger(g)
			if err != nil {
				return fatal(err)
			}
			defer func() { _ = log.Sync() }()

			res, err := engine.Scan(cmd.Context(), sf.engineConfig(cmd, g, fc, root), engine.WithLogger(log))
			if err != nil {
				return fatal(fmt.Errorf("scan: %w", err))
			}
			path := filepath.Join(root, report.DefaultBaseline)
			if fc.Baseline != nil && *fc.Baseline != "" {
				path = *fc.Baseline
				if !filepath.IsAbs(path) {
					path = filepath.Join(root, path)
				}
			}
			if err := report.SaveBaseline(path, res.Report.Findings); err != nil {
				return fatal(err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Baseline updated: %d findings in %s\n", len(res.Report.Findings), path)
			return nil
		},
	}
	sf.register(update)
	cmd.AddCommand(update)
	return cmd
}
