package taintline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/config"
	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/git"
	"github.com/taintline/taintline/internal/report"
)

type diffFlags struct {
	scopeFlags
	gitRef string
}

func newDiffCmd(g *globalFlags) *cobra.Command {
	df := &diffFlags{}
	cmd := &cobra.Command{
		Use:   "diff <before> <after> | diff --git-ref <rev> <after>",
		Short: "Compare findings between two versions of a file or directory",
		Long: "diff runs the same rules over a before and an after version and classifies every finding " +
			"as a verified remediation, unresolved or a regression. Exit status is 0 only when nothing is " +
			"unresolved and nothing regressed.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(cmd, g, df, args)
		},
	}
	df.register(cmd)
	cmd.Flags().StringVar(&df.gitRef, "git-ref", "", "read the before version from this git revision of <after>'s repository")
	return cmd
}

func runDiff(cmd *cobra.Command, g *globalFlags, df *diffFlags, args []string) error {
	if df.gitRef == "" && len(args) != 2 {
		return fatal(errors.New("diff needs <before> and <after>, or --git-ref <rev> <after>"))
	}
	if df.gitRef != "" && len(args) != 1 {
		return fatal(errors.New("with --git-ref, give only <after>"))
	}
	after, err := filepath.Abs(args[len(args)-1])
	if err != nil {
		return fatal(err)
	}
	afterInfo, err := os.Stat(after)
	if err != nil {
		return fatal(err)
	}
	root := after
	if !afterInfo.IsDir() {
		root = filepath.Dir(after)
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

	ctx := cmd.Context()
	reg := adapter.Default()
	cfg := df.engineConfig(cmd, g, fc, root)

	var beforeSrc, afterSrc map[string][]byte
	if afterInfo.IsDir() {
		if afterSrc, err = engine.LoadSources(ctx, cfg, reg); err != nil {
			return fatal(err)
		}
	} else {
		if afterSrc, err = singleSource(reg, after, filepath.Base(after)); err != nil {
			return fatal(err)
		}
	}

	if df.gitRef != "" {
		keep := engine.Filter(cfg, reg)
		if !afterInfo.IsDir() {
			name := filepath.Base(after)
			keep = func(rel string) bool { return rel == name }
		}
		if beforeSrc, err = git.ReadTree(root, df.gitRef, keep); err != nil {
			return fatal(err)
		}
	} else {
		before, err := filepath.Abs(args[0])
		if err != nil {
			return fatal(err)
		}
		beforeInfo, err := os.Stat(before)
		if err != nil {
			return fatal(err)
		}
		switch {
		case beforeInfo.IsDir() != afterInfo.IsDir():
			return fatal(errors.New("before and after must both be files or both be directories"))
		case beforeInfo.IsDir():
			bcfg := cfg
			bcfg.Root = before
			if beforeSrc, err = engine.LoadSources(ctx, bcfg, reg); err != nil {
				return fatal(err)
			}
		default:
			// single files are compared under the after file's name
			if beforeSrc, err = singleSource(reg, before, filepath.Base(after)); err != nil {
				return fatal(err)
			}
		}
	}
	log.Debug("diff inputs", zap.Int("before", len(beforeSrc)), zap.Int("after", len(afterSrc)), zap.String("git_ref", df.gitRef))

	cmp, err := engine.Compare(ctx, cfg, beforeSrc, afterSrc, engine.WithLogger(log), engine.WithRegistry(reg))
	if err != nil {
		return fatal(fmt.Errorf("diff: %w", err))
	}
	for _, sk := range append(cmp.Before.Report.Skipped, cmp.After.Report.Skipped...) {
		log.Warn("file skipped", zap.String("path", sk.Path), zap.String("reason", string(sk.Reason)), zap.String("error", sk.Error))
	}

	out := cmd.OutOrStdout()
	if g.json {
		if err := report.WriteDiffJSON(out, cmp.Diff); err != nil {
			return fatal(err)
		}
	} else {
		report.PrintDiff(out, cmp.Diff, report.PrintOptions{NoColor: !colorEnabled(out, g.noColor)})
	}
	if !cmp.Clean() {
		return &exitError{code: exitFindings}
	}
	return nil
}

func singleSource(reg *adapter.Registry, path, name string) (map[string][]byte, error) {
	if !reg.Supported(name) {
		return nil, fmt.Errorf("%s: unsupported file type", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return map[string][]byte{name: b}, nil
}
