package taintline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

// Exit codes.
const (
	exitOK       = 0
	exitFindings = 1
	exitFatal    = 2
)

type globalFlags struct {
	json    bool
	sarif   bool
	threads int
	rules   string
	noColor bool
	verbose bool
}

// exitError carries a process exit code through cobra. err may be nil when
// the code alone says everything (findings at or above the threshold).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func fatal(err error) error { return &exitError{code: exitFatal, err: err} }

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "taintline",
		Short:         "Find injection flaws and code smells in PHP and JavaScript",
		Long:          "Taintline tracks untrusted input to dangerous sinks and matches structural rules in PHP and JavaScript sources, then maps every finding to a remediation.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.BoolVar(&g.json, "json", false, "emit JSON")
	pf.BoolVar(&g.sarif, "sarif", false, "emit SARIF 2.1.0")
	pf.IntVar(&g.threads, "threads", 0, "worker count (0 = GOMAXPROCS)")
	pf.StringVar(&g.rules, "rules", "", "rule pack file (default: builtin rules)")
	pf.BoolVar(&g.noColor, "no-color", false, "disable colorized output")
	pf.BoolVar(&g.verbose, "verbose", false, "debug logging and remediation details")

	root.AddCommand(
		newScanCmd(g),
		newDiffCmd(g),
		newListRulesCmd(g),
		newBaselineCmd(g),
		newConfigCmd(),
		newHistoryCmd(g),
		newCompletionCmd(root),
	)
	return root
}

// Execute runs the CLI and exits with its status. It should be called by
// the main package.
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, "error:", ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "error:", err)
	return exitFatal
}
