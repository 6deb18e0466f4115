package taintline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/taintline/taintline/internal/adapter"
	"github.com/taintline/taintline/internal/audit"
	"github.com/taintline/taintline/internal/config"
	"github.com/taintline/taintline/internal/engine"
	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/git"
	"github.com/taintline/taintline/internal/notify"
	"github.com/taintline/taintline/internal/report"
	"github.com/taintline/taintline/internal/types"
)

type scanFlags struct {
	scopeFlags
	minSeverity   string
	baseline      string
	timeout       time.Duration
	notifyWebhook string
	notifyToken   string
	noAudit       bool
}

func newScanCmd(g *globalFlags) *cobra.Command {
	sf := &scanFlags{}
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Scan PHP and JavaScript sources under path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, g, sf, args)
		},
	}
	sf.register(cmd)
	f := cmd.Flags()
	f.StringVar(&sf.minSeverity, "min-severity", string(types.SevHigh), "exit 1 when a finding is at or above: low|medium|high|critical")
	f.StringVar(&sf.baseline, "baseline", "", "baseline file of accepted findings (default: "+report.DefaultBaseline+" in path)")
	f.DurationVar(&sf.timeout, "timeout", 0, "cancel the scan after this long; unfinished files are reported as skipped")
	f.StringVar(&sf.notifyWebhook, "notify-webhook", "", "POST a summary to this webhook after the scan")
	f.StringVar(&sf.notifyToken, "notify-token", "", "bearer token for the webhook")
	f.BoolVar(&sf.noAudit, "no-audit", false, "do not append this scan to the history log in .git")
	return cmd
}

func runScan(cmd *cobra.Command, g *globalFlags, sf *scanFlags, args []string) error {
	root, err := absDir(args)
	if err != nil {
		return fatal(err)
	}
	fc, err := config.Resolve(root)
	if err != nil {
		return fatal(fmt.Errorf("config: %w", err))
	}
	minSev, err := types.ParseSeverity(pick(cmd.Flags().Changed("min-severity"), sf.minSeverity, fc.MinSeverity))
	if err != nil {
		return fatal(err)
	}
	log, err := newLogger(g)
	if err != nil {
		return fatal(err)
	}
	defer func() { _ = log.Sync() }()

	cfg := sf.engineConfig(cmd, g, fc, root)
	ctx := cmd.Context()
	if sf.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, sf.timeout)
		defer cancel()
	}

	stderr := cmd.ErrOrStderr()
	textMode := !g.json && !g.sarif
	showProgress := textMode && isTerminal(stderr)
	if showProgress {
		_, _ = fmt.Fprintf(stderr, "Scanning %s...\n", root)
		if total, _ := engine.Targets(ctx, cfg, adapter.Default()); len(total) > 0 {
			var done atomic.Int64
			n := int64(len(total))
			cfg.Progress = func() {
				d := done.Add(1)
				if d%10 == 0 || d == n {
					_, _ = fmt.Fprintf(stderr, "\r[%d/%d] %.0f%%", d, n, float64(d)/float64(n)*100)
				}
			}
		}
	}

	res, err := engine.Scan(ctx, cfg, engine.WithLogger(log))
	if showProgress {
		_, _ = fmt.Fprintln(stderr)
	}
	if err != nil {
		log.Error("scan failed", zap.String("root", root), zap.Error(err))
		return fatal(fmt.Errorf("scan: %w", err))
	}

	basePath := baselinePath(cmd, sf, fc, root)
	rep := applyBaseline(res.Report, basePath, log)
	md := git.RepoMetadata(root)

	out := cmd.OutOrStdout()
	switch {
	case g.sarif:
		if err := report.WriteSARIF(out, rep.Findings, res.Rules.All(), version); err != nil {
			return fatal(fmt.Errorf("sarif: %w", err))
		}
	case g.json:
		if err := report.WriteJSON(out, rep); err != nil {
			return fatal(err)
		}
	default:
		report.PrintText(out, rep, report.PrintOptions{NoColor: !colorEnabled(out, g.noColor), Verbose: g.verbose})
	}

	sendNotification(ctx, cmd, sf, fc, md, rep, minSev, log)
	if !sf.noAudit && isDir(filepath.Join(root, ".git")) {
		rec := audit.NewRecord(root, res.Report, rep.Findings, basePath)
		rec.Commit = md.Commit
		if err := audit.New(root).Append(rec); err != nil {
			log.Warn("audit log not written", zap.Error(err))
		}
	}

	if report.ShouldFail(rep.Findings, minSev) {
		return &exitError{code: exitFindings}
	}
	return nil
}

func baselinePath(cmd *cobra.Command, sf *scanFlags, fc config.FileConfig, root string) string {
	p := pick(cmd.Flags().Changed("baseline"), sf.baseline, fc.Baseline)
	if p == "" {
		return filepath.Join(root, report.DefaultBaseline)
	}
	if !cmd.Flags().Changed("baseline") && !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	return p
}

// applyBaseline drops accepted findings and recomputes the summary. A
// missing baseline file leaves the report unchanged.
func applyBaseline(rep findings.Report, path string, log *zap.Logger) findings.Report {
	base, err := report.LoadBaseline(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("ignoring unreadable baseline", zap.String("path", path), zap.Error(err))
		}
		return rep
	}
	kept := report.FilterNewFindings(rep.Findings, base)
	if kept == nil {
		kept = []types.Finding{}
	}
	log.Debug("baseline applied", zap.String("path", path), zap.Int("accepted", len(rep.Findings)-len(kept)))
	rep.Findings = kept
	rep.Summary = findings.Summarize(kept)
	return rep
}

// sendNotification posts the summary when a webhook is configured. Failures
// are warnings and never change the exit code.
func sendNotification(ctx context.Context, cmd *cobra.Command, sf *scanFlags, fc config.FileConfig, md git.Metadata, rep findings.Report, minSev types.Severity, log *zap.Logger) {
	var fileURL, fileSev *string
	if fc.Notify != nil {
		fileURL, fileSev = fc.Notify.Webhook, fc.Notify.MinSeverity
	}
	url := pick(cmd.Flags().Changed("notify-webhook"), sf.notifyWebhook, fileURL)
	if url == "" {
		return
	}
	sev := minSev
	if fileSev != nil {
		if s, err := types.ParseSeverity(*fileSev); err == nil {
			sev = s
		}
	}
	sent, err := notify.Report(context.WithoutCancel(ctx), rep, notify.Options{
		URL:         url,
		Token:       sf.notifyToken,
		MinSeverity: sev,
		Version:     version,
		Metadata:    md,
	})
	if err != nil {
		log.Warn("notification failed", zap.Error(err))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "notify warning:", err)
		return
	}
	log.Debug("notification", zap.Bool("sent", sent))
}
