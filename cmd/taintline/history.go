package taintline

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/taintline/taintline/internal/audit"
	"github.com/taintline/taintline/internal/report"
)

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [path]",
		Short: "Show recent scans recorded for a repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := absDir(args)
			if err != nil {
				return fatal(err)
			}
			recs, err := audit.New(root).History()
			if err != nil {
				return fatal(err)
			}
			if limit > 0 && len(recs) > limit {
				recs = recs[:limit]
			}
			out := cmd.OutOrStdout()
			if g.json {
				if recs == nil {
					recs = []audit.Record{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(recs); err != nil {
					return fatal(err)
				}
				return nil
			}
			report.PrintHistory(out, recs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "show at most this many scans (0 = all)")
	return cmd
}
