// Package validation defines the validation issue model shared across the
// conversion pipeline: severities, the outcome derivation rule, issue-set
// comparison for no-progress detection, and a rule-based metadata validator
// used when no external validator is configured.
package validation

import (
	"context"
	"sort"
	"strings"
)

// Severity classifies the blocking impact of a validation issue.
type Severity string

const (
	// SeverityCritical indicates the output is unusable.
	SeverityCritical Severity = "critical"
	// SeverityError indicates a schema violation that must be fixed.
	SeverityError Severity = "error"
	// SeverityWarning indicates a quality problem worth improving.
	SeverityWarning Severity = "warning"
	// SeverityBestPractice indicates a recommended but optional improvement.
	SeverityBestPractice Severity = "best_practice"
	// SeverityInfo is advisory only.
	SeverityInfo Severity = "info"
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a known level.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityError, SeverityWarning, SeverityBestPractice, SeverityInfo:
		return true
	default:
		return false
	}
}

// Blocking returns true if the severity forces a failed outcome.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityError
}

// Rank orders severities by blocking impact, most severe first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityError:
		return 1
	case SeverityWarning:
		return 2
	case SeverityBestPractice:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

// Issue is a single validation finding against a converted artifact.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Location string   `json:"location,omitempty"`
}

// Outcome is the derived result of a validation pass.
type Outcome string

const (
	// OutcomeNone means validation has not run yet.
	OutcomeNone Outcome = ""
	// OutcomePassed means no blocking or improvable issues were found.
	OutcomePassed Outcome = "passed"
	// OutcomePassedWithIssues means the output is usable but improvable.
	OutcomePassedWithIssues Outcome = "passed_with_issues"
	// OutcomeFailed means blocking issues were found.
	OutcomeFailed Outcome = "failed"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// DeriveOutcome applies the outcome rule to an issue set: any critical or
// error issue fails the run; otherwise any warning or best-practice issue
// passes with issues. Info-only issue sets derive a clean pass — info is
// advisory and never prompts the user.
func DeriveOutcome(issues []Issue) Outcome {
	outcome := OutcomePassed
	for _, issue := range issues {
		if issue.Severity.Blocking() {
			return OutcomeFailed
		}
		if issue.Severity == SeverityWarning || issue.Severity == SeverityBestPractice {
			outcome = OutcomePassedWithIssues
		}
	}
	return outcome
}

// SameIssues reports whether two issue sets are identical. Comparison is
// order-insensitive and exact on severity, message, and location. Partial
// overlap does not count: a changed set gives the correction classifier new
// material, so only exact equality signals lack of progress.
func SameIssues(a, b []Issue) bool {
	if len(a) != len(b) {
		return false
	}
	ka := issueKeys(a)
	kb := issueKeys(b)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

func issueKeys(issues []Issue) []string {
	keys := make([]string, len(issues))
	for i, issue := range issues {
		keys[i] = string(issue.Severity) + "\x00" + issue.Message + "\x00" + issue.Location
	}
	sort.Strings(keys)
	return keys
}

// Result is what a validator returns for a converted artifact.
type Result struct {
	Issues  []Issue `json:"issues"`
	Outcome Outcome `json:"outcome"`
}

// ArtifactValidator validates a converted artifact by reference. The real
// schema validation engine is an external collaborator behind this interface.
type ArtifactValidator interface {
	Validate(ctx context.Context, outputRef string) (*Result, error)
}

// FormatSummary renders an issue set as a short user-facing summary,
// grouped by severity.
func FormatSummary(issues []Issue) string {
	if len(issues) == 0 {
		return "No validation issues found."
	}

	bySeverity := make(map[Severity][]Issue)
	for _, issue := range issues {
		bySeverity[issue.Severity] = append(bySeverity[issue.Severity], issue)
	}

	order := []Severity{SeverityCritical, SeverityError, SeverityWarning, SeverityBestPractice, SeverityInfo}
	var sb strings.Builder
	for _, sev := range order {
		group := bySeverity[sev]
		if len(group) == 0 {
			continue
		}
		sb.WriteString(strings.ToUpper(strings.ReplaceAll(sev.String(), "_", " ")))
		sb.WriteString(":\n")
		for _, issue := range group {
			sb.WriteString("- ")
			sb.WriteString(issue.Message)
			if issue.Location != "" {
				sb.WriteString(" (at ")
				sb.WriteString(issue.Location)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
