package types

import (
	"fmt"
	"strings"
)

// Severity is a four-level ordinal describing how urgently a finding needs attention.
type Severity string

const (
	SevLow      Severity = "low"
	SevMedium   Severity = "medium"
	SevHigh     Severity = "high"
	SevCritical Severity = "critical"
)

// Severities lists every severity from most to least urgent.
var Severities = []Severity{SevCritical, SevHigh, SevMedium, SevLow}

// Rank orders severities: critical=4 ... low=1. Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SevCritical:
		return 4
	case SevHigh:
		return 3
	case SevMedium:
		return 2
	case SevLow:
		return 1
	}
	return 0
}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Lower returns the next severity down, bottoming out at low.
func (s Severity) Lower() Severity {
	switch s {
	case SevCritical:
		return SevHigh
	case SevHigh:
		return SevMedium
	default:
		return SevLow
	}
}

// ParseSeverity accepts any casing ("Critical", "HIGH", "medium").
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// AtLeast reports whether s is as urgent as min or more.
func (s Severity) AtLeast(min Severity) bool { return s.Rank() >= min.Rank() }

// Category is the taxonomy bucket a rule reports under.
type Category string

const (
	CatSQLInjection            Category = "SQLInjection"
	CatXSS                     Category = "XSS"
	CatCommandInjection        Category = "CommandInjection"
	CatPathTraversal           Category = "PathTraversal"
	CatWeakCryptography        Category = "WeakCryptography"
	CatInsecureDeserialization Category = "InsecureDeserialization"
	CatMissingAuthCheck        Category = "MissingAuthCheck"
	CatInformationDisclosure   Category = "InformationDisclosure"
	CatCORSMisconfiguration    Category = "CORSMisconfiguration"
	CatNPlusOneQuery           Category = "NPlusOneQuery"
	CatHardcodedSecret         Category = "HardcodedSecret"
	CatExcessiveDataExposure   Category = "ExcessiveDataExposure"
	CatMissingInputValidation  Category = "MissingInputValidation"
	CatResourceLeak            Category = "ResourceLeak"
	CatDeprecatedAPI           Category = "DeprecatedAPI"
	CatCodeQuality             Category = "CodeQuality"
)

// Categories is the closed taxonomy. Rules naming anything else fail to load.
var Categories = []Category{
	CatSQLInjection, CatXSS, CatCommandInjection, CatPathTraversal,
	CatWeakCryptography, CatInsecureDeserialization, CatMissingAuthCheck,
	CatInformationDisclosure, CatCORSMisconfiguration, CatNPlusOneQuery,
	CatHardcodedSecret, CatExcessiveDataExposure, CatMissingInputValidation,
	CatResourceLeak, CatDeprecatedAPI, CatCodeQuality,
}

func (c Category) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

// Confidence expresses how certain the engine is about a match.
type Confidence string

const (
	ConfHigh   Confidence = "high"
	ConfMedium Confidence = "medium"
)

// Remediation is the canonical secure pattern attached to a finding.
type Remediation struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	ExampleFix  string   `json:"example_fix,omitempty"`
	References  []string `json:"references,omitempty"`
}

// Finding is one reported rule match at a specific location. Findings are
// never mutated after the matcher produces them.
type Finding struct {
	RuleID     string     `json:"rule_id"`
	Category   Category   `json:"category"`
	Severity   Severity   `json:"severity"`
	Confidence Confidence `json:"confidence"`
	Path       string     `json:"path"`
	Line       int        `json:"line"`
	Column     int        `json:"column,omitempty"`
	EndLine    int        `json:"end_line,omitempty"`
	EndColumn  int        `json:"end_column,omitempty"`
	Function   string     `json:"function,omitempty"`
	Snippet    string     `json:"snippet,omitempty"`
	Message    string     `json:"message"`
	Source     string     `json:"source,omitempty"` // taint source category
	Sink       string     `json:"sink,omitempty"`   // sink callee
	// Anchor names the matched construct of a structural rule, such as a
	// callee with its arguments or an identifier, independently of position.
	Anchor      string       `json:"anchor,omitempty"`
	Remediation *Remediation `json:"remediation,omitempty"`
}

// Location renders "path:line:col".
func (f Finding) Location() string {
	if f.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", f.Path, f.Line, f.Column)
	}
	return fmt.Sprintf("%s:%d", f.Path, f.Line)
}
