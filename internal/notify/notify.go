// Package notify posts a short scan summary to a chat or CI webhook.
//
// The payload carries a plain "text" field, so Slack-style incoming webhooks
// render it directly, next to the structured counts and top findings for
// consumers that parse JSON.
package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/git"
	"github.com/taintline/taintline/internal/types"
)

const (
	SchemaVersion = "1"
	// MaxTop bounds how many findings are listed in a payload.
	MaxTop = 10

	defaultTimeout = 10 * time.Second
)

var markers = map[types.Severity]string{
	types.SevCritical: "🔴",
	types.SevHigh:     "🟠",
	types.SevMedium:   "🟡",
	types.SevLow:      "🟢",
}

// Marker returns the emoji used for a severity.
func Marker(s types.Severity) string {
	if m, ok := markers[s]; ok {
		return m
	}
	return "ℹ️"
}

type Top struct {
	Marker   string         `json:"marker"`
	Severity types.Severity `json:"severity"`
	RuleID   string         `json:"rule_id"`
	Location string         `json:"location"`
	Message  string         `json:"message"`
}

type Payload struct {
	Tool      string         `json:"tool"`
	Version   string         `json:"version"`
	Schema    string         `json:"schema_version"`
	SessionID string         `json:"session_id,omitempty"`
	Repo      string         `json:"repo,omitempty"`
	Commit    string         `json:"commit,omitempty"`
	Branch    string         `json:"branch,omitempty"`
	Text      string         `json:"text"`
	Highest   types.Severity `json:"highest,omitempty"`
	Counts    map[string]int `json:"counts"`
	Total     int            `json:"total"`
	Top       []Top          `json:"top"`
}

// Options controls what Build includes and where Send delivers it.
type Options struct {
	URL         string
	Token       string
	MinSeverity types.Severity
	Version     string
	Metadata    git.Metadata
	Timeout     time.Duration
}

// Build summarizes rep. The second result is false when no finding meets
// opts.MinSeverity, in which case nothing should be sent.
func Build(rep findings.Report, opts Options) (Payload, bool) {
	threshold := opts.MinSeverity
	if !threshold.Valid() {
		threshold = types.SevLow
	}
	kept := findings.AtLeast(rep.Findings, threshold)
	if len(kept) == 0 {
		return Payload{}, false
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Severity.Rank() > kept[j].Severity.Rank()
	})

	p := Payload{
		Tool:      "taintline",
		Version:   opts.Version,
		Schema:    SchemaVersion,
		SessionID: rep.SessionID,
		Repo:      opts.Metadata.Repo,
		Commit:    opts.Metadata.Commit,
		Branch:    opts.Metadata.Branch,
		Highest:   kept[0].Severity,
		Counts:    make(map[string]int, len(types.Severities)),
		Total:     len(kept),
	}
	for _, f := range kept {
		p.Counts[string(f.Severity)]++
	}
	for i, f := range kept {
		if i == MaxTop {
			break
		}
		p.Top = append(p.Top, Top{
			Marker:   Marker(f.Severity),
			Severity: f.Severity,
			RuleID:   f.RuleID,
			Location: f.Location(),
			Message:  f.Message,
		})
	}
	p.Text = text(p)
	return p, true
}

func text(p Payload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s taintline: %d finding(s)", Marker(p.Highest), p.Total)
	if p.Repo != "" {
		fmt.Fprintf(&b, " in %s", p.Repo)
		if p.Branch != "" {
			fmt.Fprintf(&b, "@%s", p.Branch)
		}
	}
	var parts []string
	for _, s := range types.Severities {
		if n := p.Counts[string(s)]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", s, n))
		}
	}
	fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
	for _, t := range p.Top {
		fmt.Fprintf(&b, "\n%s %s %s: %s", t.Marker, t.RuleID, t.Location, t.Message)
	}
	if extra := p.Total - len(p.Top); extra > 0 {
		fmt.Fprintf(&b, "\n…and %d more", extra)
	}
	return b.String()
}

// Send posts p to opts.URL. Any non-2xx response is an error.
func Send(ctx context.Context, p Payload, opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("notify: no webhook url")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := resty.New().SetTimeout(timeout)
	req := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(p)
	if opts.Token != "" {
		req.SetAuthToken(opts.Token)
	}
	resp, err := req.Post(opts.URL)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify: webhook returned %d", resp.StatusCode())
	}
	return nil
}

// Report builds and sends a payload for rep. It reports whether anything
// was sent.
func Report(ctx context.Context, rep findings.Report, opts Options) (bool, error) {
	p, ok := Build(rep, opts)
	if !ok {
		return false, nil
	}
	return true, Send(ctx, p, opts)
}
