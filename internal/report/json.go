package report

import (
	"encoding/json"
	"io"

	"github.com/taintline/taintline/internal/findings"
	"github.com/taintline/taintline/internal/rules"
)

// WriteJSON writes the report document consumed by CI integrations.
func WriteJSON(w io.Writer, rep findings.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteDiffJSON writes a diff result with its overall verdict.
func WriteDiffJSON(w io.Writer, d findings.DiffResult) error {
	doc := struct {
		Clean bool `json:"clean"`
		findings.DiffResult
	}{d.Clean(), d}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

type ruleDoc struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Severity    string   `json:"severity"`
	Kind        string   `json:"kind"`
	Languages   []string `json:"languages,omitempty"`
	Remediation string   `json:"remediation"`
}

// WriteRulesJSON lists rules as a JSON array.
func WriteRulesJSON(w io.Writer, all []*rules.Rule) error {
	docs := make([]ruleDoc, 0, len(all))
	for _, r := range all {
		docs = append(docs, ruleDoc{
			ID:          r.ID,
			Title:       r.Title,
			Category:    string(r.Category),
			Severity:    string(r.Severity),
			Kind:        string(r.Kind),
			Languages:   r.Languages,
			Remediation: r.RemediationID,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(docs)
}
