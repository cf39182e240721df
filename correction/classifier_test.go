package correction

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodataworks/conversant/validation"
)

func TestBuildPlanGroupsByRootCause(t *testing.T) {
	c := NewClassifier(nil)

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "missing species", Location: "/subject/species"},
		{Severity: validation.SeverityWarning, Message: "missing species prevents subject table creation", Location: "/subject/species"},
		{Severity: validation.SeverityError, Message: "missing identifier", Location: "/identifier"},
	}
	plan := c.BuildPlan(issues, nil, 1)

	require.Len(t, plan.Groups, 2)
	assert.Equal(t, 1, plan.Attempt)

	var species *Group
	for i := range plan.Groups {
		if plan.Groups[i].Field == "species" {
			species = &plan.Groups[i]
		}
	}
	require.NotNil(t, species)
	assert.Equal(t, "missing:species", species.RootCause)
	assert.Len(t, species.Issues, 2)
	// Most severe member plus count weight.
	assert.Equal(t, 81, species.Impact)
}

func TestRootCauseFallsBackToMessage(t *testing.T) {
	tests := []struct {
		name      string
		issue     validation.Issue
		wantCause string
		wantField string
	}{
		{
			"location path wins",
			validation.Issue{Message: "missing species", Location: "/subject/species"},
			"missing:species", "species",
		},
		{
			"missing message parsed",
			validation.Issue{Message: "missing session_start_time"},
			"missing:session_start_time", "session_start_time",
		},
		{
			"invalid message parsed",
			validation.Issue{Message: "invalid sex code"},
			"invalid:sex", "sex",
		},
		{
			"unparseable shares the unparsed group",
			validation.Issue{Message: "check function check_data_orientation failed"},
			"unparsed", "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause, field := rootCause(tt.issue)
			assert.Equal(t, tt.wantCause, cause)
			assert.Equal(t, tt.wantField, field)
		})
	}
}

func TestClassifyCategories(t *testing.T) {
	c := NewClassifier(nil)
	merged := map[string]string{
		"species":            "Mus musculus",
		"session_start_time": "2024-03-15T09:30:00",
	}

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "missing identifier", Location: "/identifier"},
		{Severity: validation.SeverityError, Message: "missing species", Location: "/subject/species"},
		{Severity: validation.SeverityError, Message: "invalid session_start_time", Location: "/session_start_time"},
		{Severity: validation.SeverityError, Message: "missing experimenter", Location: "/experimenter"},
		{Severity: validation.SeverityWarning, Message: "check function check_rate failed"},
	}
	plan := c.BuildPlan(issues, merged, 1)

	byField := make(map[string]Category)
	for _, g := range plan.Groups {
		byField[g.RootCause] = g.Category
	}

	// Identifier is mechanical regardless of merged metadata.
	assert.Equal(t, AutoFixable, byField["missing:identifier"])
	// A merged value can be re-stamped into the artifact.
	assert.Equal(t, AutoFixable, byField["missing:species"])
	// Rewriting an existing timestamp needs consent even with a merged value.
	assert.Equal(t, NeedsApproval, byField["invalid:session_start_time"])
	// No merged value and no mechanical rule: ask the user.
	assert.Equal(t, NeedsUserInput, byField["missing:experimenter"])
	// Unparseable issues are never dropped.
	assert.Equal(t, NeedsUserInput, byField["unparsed"])
}

func TestClassifyMissingTimestampAsksUser(t *testing.T) {
	c := NewClassifier(nil)

	plan := c.BuildPlan([]validation.Issue{
		{Severity: validation.SeverityError, Message: "missing session_start_time", Location: "/session_start_time"},
	}, nil, 1)

	require.Len(t, plan.Groups, 1)
	assert.Equal(t, NeedsUserInput, plan.Groups[0].Category)
}

func TestOrderGroupsByImpactThenDifficulty(t *testing.T) {
	c := NewClassifier(nil)
	merged := map[string]string{"species": "Mus musculus"}

	issues := []validation.Issue{
		{Severity: validation.SeverityWarning, Message: "missing lab", Location: "/lab"},
		{Severity: validation.SeverityError, Message: "missing experimenter", Location: "/experimenter"},
		{Severity: validation.SeverityError, Message: "missing species", Location: "/general/species"},
	}
	plan := c.BuildPlan(issues, merged, 1)

	require.Len(t, plan.Groups, 3)
	// Equal impact: the auto-fixable group sorts before the one needing input.
	assert.Equal(t, "missing:species", plan.Groups[0].RootCause)
	assert.Equal(t, "missing:experimenter", plan.Groups[1].RootCause)
	// Lower severity sorts last.
	assert.Equal(t, "missing:lab", plan.Groups[2].RootCause)
}

func TestOrderGroupsHoistsDependencies(t *testing.T) {
	c := NewClassifier(nil)

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "invalid species", Location: "/subject/species"},
		{Severity: validation.SeverityWarning, Message: "missing subject_id", Location: "/subject/subject_id"},
	}
	plan := c.BuildPlan(issues, nil, 2)

	require.Len(t, plan.Groups, 2)
	// The species group outranks subject_id on impact, but it depends on the
	// subject existing first.
	assert.Equal(t, "missing:subject_id", plan.Groups[0].RootCause)
	assert.Equal(t, "invalid:species", plan.Groups[1].RootCause)
	assert.Equal(t, []string{"missing:subject_id"}, plan.Groups[1].DependsOn)
}

func TestAutoFixes(t *testing.T) {
	c := NewClassifier(nil)
	merged := map[string]string{"species": "Mus musculus"}

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "missing species", Location: "/subject/species"},
		{Severity: validation.SeverityError, Message: "missing identifier", Location: "/identifier"},
	}
	plan := c.BuildPlan(issues, merged, 1)
	fixes := plan.AutoFixes(merged)

	require.Len(t, fixes, 2)
	byField := make(map[string]string)
	for _, f := range fixes {
		assert.Equal(t, "set", f.Action)
		byField[f.Field] = f.Value
	}
	assert.Equal(t, "Mus musculus", byField["species"])

	// A missing identifier is generated, not left empty.
	generated, err := uuid.Parse(byField["identifier"])
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, generated)
}

func TestQuestionsAndApprovals(t *testing.T) {
	c := NewClassifier(nil)
	merged := map[string]string{"session_start_time": "2024-03-15T09:30:00"}

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "missing experimenter", Location: "/experimenter"},
		{Severity: validation.SeverityError, Message: "invalid session_start_time", Location: "/session_start_time"},
		{Severity: validation.SeverityWarning, Message: "check function check_rate failed"},
	}
	plan := c.BuildPlan(issues, merged, 1)

	questions := plan.Questions()
	require.Len(t, questions, 2)
	assert.Contains(t, questions[0], "experimenter")
	assert.Contains(t, questions[1], "check function check_rate failed")

	approvals := plan.ApprovalRequests()
	require.Len(t, approvals, 1)
	assert.Contains(t, approvals[0], "session_start_time")
}

func TestApprovalFixes(t *testing.T) {
	c := NewClassifier(nil)
	merged := map[string]string{"session_start_time": "2024-03-15T09:30:00"}

	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "invalid session_start_time", Location: "/session_start_time"},
	}
	plan := c.BuildPlan(issues, merged, 1)

	fixes := plan.ApprovalFixes(merged)
	require.Len(t, fixes, 1)
	assert.Equal(t, "session_start_time", fixes[0].Field)
	assert.Equal(t, "set", fixes[0].Action)
	assert.Equal(t, "2024-03-15T09:30:00", fixes[0].Value)

	// Without a merged value there is nothing mechanical to render.
	assert.Empty(t, plan.ApprovalFixes(map[string]string{}))
}

func TestSummary(t *testing.T) {
	c := NewClassifier(nil)

	empty := c.BuildPlan(nil, nil, 1)
	assert.Equal(t, "No issues to correct.", empty.Summary())

	plan := c.BuildPlan([]validation.Issue{
		{Severity: validation.SeverityError, Message: "missing species", Location: "/subject/species"},
		{Severity: validation.SeverityWarning, Message: "check function check_rate failed"},
	}, nil, 1)
	summary := plan.Summary()
	assert.Contains(t, summary, "2 issue group(s)")
	assert.Contains(t, summary, "species")
	assert.Contains(t, summary, "unclassified issues")
}
