package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Requirement defines a metadata field requirement checked by the schema
// validator.
type Requirement struct {
	// Field is the metadata field name (e.g., "session_start_time").
	Field string

	// Location is the schema path reported in issues.
	Location string

	// Severity is the severity of a missing or invalid value.
	Severity Severity

	// Pattern optionally constrains the value format.
	Pattern *regexp.Regexp

	// Description is used in issue messages.
	Description string
}

// SchemaValidator is a deterministic, rule-based validator over the metadata
// embedded in a converted artifact. It serves as the degraded-mode stand-in
// for the external schema validation engine and as the validator for local
// conversions.
type SchemaValidator struct {
	requirements []Requirement
}

// iso8601Re accepts dates with optional time component.
var iso8601Re = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2})?(Z|[+-]\d{2}:?\d{2})?)?$`)

// NewSchemaValidator creates a validator with the default archival schema
// requirements.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		requirements: []Requirement{
			{
				Field:       "session_description",
				Location:    "/general/session_description",
				Severity:    SeverityError,
				Description: "description of the recording session",
			},
			{
				Field:       "identifier",
				Location:    "/identifier",
				Severity:    SeverityError,
				Description: "unique identifier for the file",
			},
			{
				Field:       "session_start_time",
				Location:    "/session_start_time",
				Severity:    SeverityError,
				Pattern:     iso8601Re,
				Description: "session start time in ISO 8601 form",
			},
			{
				Field:       "subject_id",
				Location:    "/general/subject/subject_id",
				Severity:    SeverityWarning,
				Description: "identifier for the experimental subject",
			},
			{
				Field:       "species",
				Location:    "/general/subject/species",
				Severity:    SeverityWarning,
				Pattern:     regexp.MustCompile(`^[A-Z][a-z]+ [a-z]+$`),
				Description: "subject species as a Latin binomial",
			},
			{
				Field:       "sex",
				Location:    "/general/subject/sex",
				Severity:    SeverityBestPractice,
				Pattern:     regexp.MustCompile(`^[MFUO]$`),
				Description: "subject sex code (M, F, U, or O)",
			},
			{
				Field:       "experimenter",
				Location:    "/general/experimenter",
				Severity:    SeverityBestPractice,
				Description: "name of the experimenter",
			},
			{
				Field:       "institution",
				Location:    "/general/institution",
				Severity:    SeverityBestPractice,
				Description: "institution where the data was recorded",
			},
			{
				Field:       "lab",
				Location:    "/general/lab",
				Severity:    SeverityInfo,
				Description: "lab where the data was recorded",
			},
		},
	}
}

// Requirements returns the configured requirement table.
func (v *SchemaValidator) Requirements() []Requirement {
	return v.requirements
}

// CheckMetadata validates a metadata mapping against the requirement table.
func (v *SchemaValidator) CheckMetadata(meta map[string]string) *Result {
	var issues []Issue

	for _, req := range v.requirements {
		value, ok := meta[req.Field]
		value = strings.TrimSpace(value)
		if !ok || value == "" {
			issues = append(issues, Issue{
				Severity: req.Severity,
				Message:  fmt.Sprintf("missing %s: %s", req.Field, req.Description),
				Location: req.Location,
			})
			continue
		}
		if req.Pattern != nil && !req.Pattern.MatchString(value) {
			issues = append(issues, Issue{
				Severity: req.Severity,
				Message:  fmt.Sprintf("invalid %s %q: expected %s", req.Field, value, req.Description),
				Location: req.Location,
			})
		}
	}

	return &Result{Issues: issues, Outcome: DeriveOutcome(issues)}
}

// Validate implements ArtifactValidator. The artifact reference is a path to
// a locally converted file whose metadata block is validated against the
// requirement table.
func (v *SchemaValidator) Validate(_ context.Context, outputRef string) (*Result, error) {
	data, err := os.ReadFile(outputRef)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", outputRef, err)
	}

	var artifact struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", outputRef, err)
	}

	return v.CheckMetadata(artifact.Metadata), nil
}
