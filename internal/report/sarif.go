package report

import (
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/taintline/taintline/internal/rules"
	"github.com/taintline/taintline/internal/types"
)

const (
	toolName = "taintline"
	toolURI  = "https://github.com/taintline/taintline"
)

func sevToLevel(s types.Severity) string {
	switch s {
	case types.SevCritical, types.SevHigh:
		return "error"
	case types.SevMedium:
		return "warning"
	default:
		return "note"
	}
}

// WriteSARIF writes findings as SARIF 2.1.0 with one rule descriptor per
// active rule.
func WriteSARIF(w io.Writer, fs []types.Finding, active []*rules.Rule, version string) error {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return err
	}
	run := sarif.NewRunWithInformationURI(toolName, toolURI)
	run.Tool.Driver.WithVersion(version)
	for _, r := range active {
		d := run.AddRule(r.ID).
			WithDescription(r.Title).
			WithDefaultConfiguration(sarif.NewReportingConfiguration().WithLevel(sevToLevel(r.Severity)))
		if p := remediationHelp(fs, r.ID); p != "" {
			d.WithHelp(sarif.NewMultiformatMessageString(p))
		}
	}
	for _, f := range fs {
		region := sarif.NewRegion().WithStartLine(f.Line)
		if f.Column > 0 {
			region.WithStartColumn(f.Column)
		}
		if f.EndLine > 0 {
			region.WithEndLine(f.EndLine)
		}
		if f.EndColumn > 0 {
			region.WithEndColumn(f.EndColumn)
		}
		if f.Snippet != "" {
			region.WithSnippet(sarif.NewArtifactContent().WithText(f.Snippet))
		}
		loc := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.Path)).
				WithRegion(region),
		)
		run.AddDistinctArtifact(f.Path)
		res := sarif.NewRuleResult(f.RuleID).
			WithMessage(sarif.NewTextMessage(f.Message)).
			WithLevel(sevToLevel(f.Severity)).
			WithLocations([]*sarif.Location{loc})
		run.AddResult(res)
	}
	doc.AddRun(run)
	return doc.PrettyWrite(w)
}

func remediationHelp(fs []types.Finding, ruleID string) string {
	for _, f := range fs {
		if f.RuleID == ruleID && f.Remediation != nil {
			return f.Remediation.Description
		}
	}
	return ""
}
