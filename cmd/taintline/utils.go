package taintline

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/taintline/taintline/internal/config"
	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/logging"
)

// pick applies CLI > config precedence. The CLI value wins when its flag
// was given or the config leaves the field unset.
func pick[T any](changed bool, cli T, file *T) T {
	if changed || file == nil {
		return cli
	}
	return *file
}

func colorEnabled(w io.Writer, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func newLogger(g *globalFlags) (*zap.Logger, error) {
	return logging.New(g.verbose)
}

// scopeFlags select files and rules. scan, diff and baseline share them.
type scopeFlags struct {
	include         string
	exclude         string
	maxBytes        int64
	enable          string
	disable         string
	defaultExcludes bool
	noCache         bool
}

func (s *scopeFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&s.include, "include", "", "comma-separated include globs")
	f.StringVar(&s.exclude, "exclude", "", "comma-separated exclude globs")
	f.Int64Var(&s.maxBytes, "max-bytes", 1<<20, "skip files larger than this")
	f.StringVar(&s.enable, "enable", "", "only run these rules (comma-separated ids)")
	f.StringVar(&s.disable, "disable", "", "skip these rules (comma-separated ids)")
	f.BoolVar(&s.defaultExcludes, "default-excludes", true, "skip vendor, node_modules, minified bundles and generated helpers")
	f.BoolVar(&s.noCache, "no-cache", false, "disable the incremental result cache")
}

func (s *scopeFlags) engineConfig(cmd *cobra.Command, g *globalFlags, fc config.FileConfig, root string) engine.Config {
	f := cmd.Flags()
	return engine.Config{
		Root:            root,
		IncludeGlobs:    pick(f.Changed("include"), s.include, fc.Include),
		ExcludeGlobs:    pick(f.Changed("exclude"), s.exclude, fc.Exclude),
		MaxBytes:        pick(f.Changed("max-bytes"), s.maxBytes, fc.MaxBytes),
		Threads:         pick(f.Changed("threads"), g.threads, fc.Threads),
		RulesPath:       rulesPath(f.Changed("rules"), g.rules, fc.Rules, root),
		EnableRules:     pick(f.Changed("enable"), s.enable, fc.Enable),
		DisableRules:    pick(f.Changed("disable"), s.disable, fc.Disable),
		DefaultExcludes: pick(f.Changed("default-excludes"), s.defaultExcludes, fc.DefaultExcludes),
		NoCache:         s.noCache,
	}
}

// rulesPath resolves a configured rule pack relative to the scan root.
func rulesPath(changed bool, cli string, file *string, root string) string {
	if changed || file == nil || *file == "" {
		return cli
	}
	p := *file
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return p
}

func absDir(args []string) (string, error) {
	p := "."
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		p = args[0]
	}
	return filepath.Abs(p)
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}
