package taintline

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taintline/taintline/internal/config"
	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/report"
)

// list-rules is read-only: it reports problems but always exits 0.
func newListRulesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list-rules",
		Short: "Print the loaded rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, _ := absDir(nil)
			fc, err := config.Resolve(root)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "config warning:", err)
			}
			cfg := engine.Config{
				RulesPath:    rulesPath(cmd.Flags().Changed("rules"), g.rules, fc.Rules, root),
				EnableRules:  pick(false, "", fc.Enable),
				DisableRules: pick(false, "", fc.Disable),
			}
			rs, err := engine.LoadRules(cfg)
			if err != nil {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
				return nil
			}
			out := cmd.OutOrStdout()
			if g.json {
				_ = report.WriteRulesJSON(out, rs.All())
				return nil
			}
			report.PrintRules(out, rs.All(), report.PrintOptions{NoColor: !colorEnabled(out, g.noColor)})
			return nil
		},
	}
}
