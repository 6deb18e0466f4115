package taintline

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/taintline/taintline/internal/config"
)

func newConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Configuration helpers"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a starter " + config.LocalNames[0],
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := absDir(args)
			if err != nil {
				return fatal(err)
			}
			p, err := config.WriteTemplate(root, force)
			if errors.Is(err, os.ErrExist) {
				return fatal(fmt.Errorf("%s already exists (use --force to overwrite)", p))
			}
			if err != nil {
				return fatal(err)
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Wrote", p)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfgCmd.AddCommand(initCmd)
	return cfgCmd
}
