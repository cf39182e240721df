// Package correction groups validation issues by root cause, classifies each
// group by how it can be fixed, and produces an ordered remediation plan for
// the bounded correction loop.
package correction

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/validation"
)

// Category classifies how a root-cause group can be remediated.
type Category string

const (
	// AutoFixable groups are mechanical and safe to apply without asking.
	AutoFixable Category = "auto_fixable"
	// NeedsApproval groups modify existing data and require explicit user
	// consent before applying.
	NeedsApproval Category = "needs_approval"
	// NeedsUserInput groups require domain knowledge the system cannot
	// infer. Unparseable issues land here rather than being dropped.
	NeedsUserInput Category = "needs_user_input"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Group is a set of validation issues explained by one root cause.
type Group struct {
	// RootCause identifies the group (e.g., "missing:species").
	RootCause string `json:"root_cause"`

	// Field is the descriptive field at fault, empty for unparsed issues.
	Field string `json:"field,omitempty"`

	// Category is the remediation classification.
	Category Category `json:"category"`

	// Issues are the member issues, in input order.
	Issues []validation.Issue `json:"issues"`

	// Impact scores the blocking weight of the group (higher first).
	Impact int `json:"impact"`

	// Difficulty scores remediation effort (lower first).
	Difficulty int `json:"difficulty"`

	// DependsOn lists root causes that must be fixed before this one.
	DependsOn []string `json:"depends_on,omitempty"`
}

// Plan is an ordered remediation plan for one correction cycle.
type Plan struct {
	Groups  []Group `json:"groups"`
	Attempt int     `json:"attempt"`
}

// ByCategory returns the plan's groups in a category, preserving plan order.
func (p *Plan) ByCategory(c Category) []Group {
	var out []Group
	for _, g := range p.Groups {
		if g.Category == c {
			out = append(out, g)
		}
	}
	return out
}

// missingRe and invalidRe parse the schema validator's issue messages.
var (
	missingRe = regexp.MustCompile(`^missing ([a-z0-9_]+)`)
	invalidRe = regexp.MustCompile(`^invalid ([a-z0-9_]+)`)
)

// mechanicalFields can always be fixed without user knowledge.
var mechanicalFields = map[string]bool{
	"identifier": true,
}

// timestampFields hold existing data whose modification needs user consent.
var timestampFields = map[string]bool{
	"session_start_time": true,
}

// Classifier builds remediation plans from validation issues.
type Classifier struct {
	logger *slog.Logger
}

// NewClassifier creates a classifier.
func NewClassifier(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// BuildPlan groups the issues by root cause, classifies each group, and
// orders groups respecting dependencies with ties broken by impact
// descending then difficulty ascending.
func (c *Classifier) BuildPlan(issues []validation.Issue, merged map[string]string, attempt int) *Plan {
	grouped := make(map[string]*Group)
	var order []string

	for _, issue := range issues {
		cause, field := rootCause(issue)
		g, ok := grouped[cause]
		if !ok {
			g = &Group{RootCause: cause, Field: field}
			grouped[cause] = g
			order = append(order, cause)
		}
		g.Issues = append(g.Issues, issue)
	}

	groups := make([]Group, 0, len(order))
	for _, cause := range order {
		g := grouped[cause]
		g.Category = c.classify(g, merged)
		g.Impact = impact(g)
		g.Difficulty = difficulty(g)
		g.DependsOn = dependencies(g, grouped)
		groups = append(groups, *g)
	}

	plan := &Plan{Groups: orderGroups(groups), Attempt: attempt}
	c.logger.Debug("Built remediation plan",
		"groups", len(plan.Groups),
		"auto_fixable", len(plan.ByCategory(AutoFixable)),
		"needs_approval", len(plan.ByCategory(NeedsApproval)),
		"needs_user_input", len(plan.ByCategory(NeedsUserInput)),
		"attempt", attempt)
	return plan
}

// rootCause derives the group key and field for an issue. The schema path
// is authoritative when present; otherwise the message is parsed. Issues
// that fit neither share the "unparsed" group.
func rootCause(issue validation.Issue) (cause, field string) {
	if issue.Location != "" {
		segments := strings.Split(strings.Trim(issue.Location, "/"), "/")
		field = segments[len(segments)-1]
	}
	if field == "" {
		if m := missingRe.FindStringSubmatch(issue.Message); m != nil {
			field = m[1]
		} else if m := invalidRe.FindStringSubmatch(issue.Message); m != nil {
			field = m[1]
		}
	}
	if field == "" {
		return "unparsed", ""
	}

	kind := "invalid"
	if strings.HasPrefix(issue.Message, "missing") {
		kind = "missing"
	}
	return kind + ":" + field, field
}

// classify decides how a group can be remediated. Unparseable groups
// default to NeedsUserInput — the safe choice, never a silent drop.
func (c *Classifier) classify(g *Group, merged map[string]string) Category {
	if g.Field == "" {
		return NeedsUserInput
	}

	missing := strings.HasPrefix(g.RootCause, "missing:")

	if mechanicalFields[g.Field] {
		return AutoFixable
	}

	// A value the user or extractor already supplied can be re-stamped
	// into the artifact mechanically.
	if value, ok := merged[g.Field]; ok && strings.TrimSpace(value) != "" {
		if !missing && timestampFields[g.Field] {
			// Rewriting an existing timestamp alters recorded data.
			return NeedsApproval
		}
		return AutoFixable
	}

	if timestampFields[g.Field] {
		if missing {
			return NeedsUserInput
		}
		return NeedsApproval
	}

	return NeedsUserInput
}

// impact scores a group by its most severe issue plus a small weight for
// issue count.
func impact(g *Group) int {
	best := 0
	for _, issue := range g.Issues {
		score := 0
		switch issue.Severity {
		case validation.SeverityCritical:
			score = 100
		case validation.SeverityError:
			score = 80
		case validation.SeverityWarning:
			score = 40
		case validation.SeverityBestPractice:
			score = 20
		case validation.SeverityInfo:
			score = 10
		}
		if score > best {
			best = score
		}
	}
	return best + len(g.Issues) - 1
}

// difficulty scores remediation effort by category.
func difficulty(g *Group) int {
	switch g.Category {
	case AutoFixable:
		return 1
	case NeedsApproval:
		return 2
	default:
		return 3
	}
}

// dependencies derives fix-order constraints: subject sub-fields depend on
// the subject existing first.
func dependencies(g *Group, all map[string]*Group) []string {
	if g.Field == "" || g.Field == "subject_id" {
		return nil
	}
	underSubject := false
	for _, issue := range g.Issues {
		if strings.Contains(issue.Location, "/subject/") {
			underSubject = true
			break
		}
	}
	if !underSubject {
		return nil
	}
	if _, ok := all["missing:subject_id"]; ok {
		return []string{"missing:subject_id"}
	}
	return nil
}

// orderGroups orders the plan: dependencies first, then impact descending,
// difficulty ascending, root cause as the stable final tie-break.
func orderGroups(groups []Group) []Group {
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].Impact != groups[j].Impact {
			return groups[i].Impact > groups[j].Impact
		}
		if groups[i].Difficulty != groups[j].Difficulty {
			return groups[i].Difficulty < groups[j].Difficulty
		}
		return groups[i].RootCause < groups[j].RootCause
	})

	// Topological selection: repeatedly take the first group whose
	// dependencies are already placed, keeping the sorted order otherwise.
	placed := make(map[string]bool, len(groups))
	ordered := make([]Group, 0, len(groups))
	for len(ordered) < len(groups) {
		progressed := false
		for _, g := range groups {
			if placed[g.RootCause] || !depsPlaced(g, placed) {
				continue
			}
			placed[g.RootCause] = true
			ordered = append(ordered, g)
			progressed = true
		}
		if !progressed {
			// Dependency on a group outside the plan; place the rest as-is.
			for _, g := range groups {
				if !placed[g.RootCause] {
					placed[g.RootCause] = true
					ordered = append(ordered, g)
				}
			}
		}
	}
	return ordered
}

func depsPlaced(g Group, placed map[string]bool) bool {
	for _, dep := range g.DependsOn {
		if !placed[dep] {
			return false
		}
	}
	return true
}

// AutoFixes renders the plan's auto-fixable groups as converter fixes,
// sourcing values from the merged metadata. The identifier field is
// generated when absent.
func (p *Plan) AutoFixes(merged map[string]string) []converter.Fix {
	var fixes []converter.Fix
	for _, g := range p.ByCategory(AutoFixable) {
		value := merged[g.Field]
		if strings.TrimSpace(value) == "" && g.Field == "identifier" {
			value = uuid.New().String()
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		fixes = append(fixes, converter.Fix{
			Field:  g.Field,
			Action: "set",
			Value:  value,
		})
	}
	return fixes
}

// ApprovalFixes renders the plan's needs-approval groups as converter
// fixes, sourcing values from the merged metadata. Groups without a merged
// value have nothing mechanical to apply and are skipped.
func (p *Plan) ApprovalFixes(merged map[string]string) []converter.Fix {
	var fixes []converter.Fix
	for _, g := range p.ByCategory(NeedsApproval) {
		value := merged[g.Field]
		if strings.TrimSpace(value) == "" {
			continue
		}
		fixes = append(fixes, converter.Fix{
			Field:  g.Field,
			Action: "set",
			Value:  value,
		})
	}
	return fixes
}

// Questions renders the plan's needs-user-input groups as explicit
// questions for the user.
func (p *Plan) Questions() []string {
	var questions []string
	for _, g := range p.ByCategory(NeedsUserInput) {
		if g.Field == "" {
			for _, issue := range g.Issues {
				questions = append(questions,
					fmt.Sprintf("The validator reported %q — how should this be resolved?", issue.Message))
			}
			continue
		}
		questions = append(questions,
			fmt.Sprintf("The converted file needs a value for %s (%s). What should it be?",
				g.Field, g.Issues[0].Message))
	}
	return questions
}

// ApprovalRequests renders the plan's needs-approval groups as consent
// prompts.
func (p *Plan) ApprovalRequests() []string {
	var requests []string
	for _, g := range p.ByCategory(NeedsApproval) {
		requests = append(requests,
			fmt.Sprintf("Fixing %s modifies existing data (%s). Apply it?", g.Field, g.Issues[0].Message))
	}
	return requests
}

// Summary renders a short user-facing description of the plan.
func (p *Plan) Summary() string {
	if len(p.Groups) == 0 {
		return "No issues to correct."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d issue group(s) identified:\n", len(p.Groups))
	for _, g := range p.Groups {
		label := g.Field
		if label == "" {
			label = "unclassified issues"
		}
		fmt.Fprintf(&sb, "- %s: %d issue(s), %s\n", label, len(g.Issues), g.Category)
	}
	return strings.TrimRight(sb.String(), "\n")
}
