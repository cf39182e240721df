package metadata

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/neurodataworks/conversant/session"
)

// Confidence tier boundaries. High-confidence extractions apply silently,
// medium-confidence extractions apply flagged for review, low-confidence
// extractions are withheld and surfaced as follow-up questions.
const (
	TierHighMin   = 80
	TierMediumMin = 50
)

// Tier buckets an extraction's confidence score.
type Tier string

const (
	// TierHigh is auto-applied silently.
	TierHigh Tier = "high"
	// TierMedium is applied but flagged for review.
	TierMedium Tier = "medium"
	// TierLow is withheld pending user confirmation.
	TierLow Tier = "low"
)

// TierFor buckets a confidence score in [0, 100].
func TierFor(confidence int) Tier {
	switch {
	case confidence >= TierHighMin:
		return TierHigh
	case confidence >= TierMediumMin:
		return TierMedium
	default:
		return TierLow
	}
}

// Extraction is one extracted descriptive field.
type Extraction struct {
	FieldName       string `json:"field_name"`
	RawValue        string `json:"raw_value"`
	NormalizedValue string `json:"normalized_value"`
	Confidence      int    `json:"confidence"`
	NeedsReview     bool   `json:"needs_review"`
}

// Tier returns the confidence tier of the extraction.
func (e Extraction) Tier() Tier {
	return TierFor(e.Confidence)
}

// Source marks where an extraction came from, deciding which metadata map
// it lands in on apply. User values always win on merge.
type Source int

const (
	// SourceFile marks filename- or header-derived extractions.
	SourceFile Source = iota
	// SourceUser marks extractions from a user utterance.
	SourceUser
)

// ApplyResult summarizes the outcome of applying a batch of extractions.
type ApplyResult struct {
	// Applied lists extractions written to the session.
	Applied []Extraction

	// Flagged lists applied extractions needing user review (medium tier).
	Flagged []Extraction

	// FollowUps lists withheld extractions surfaced as explicit questions.
	FollowUps []string
}

// Engine normalizes and applies extracted fields.
type Engine struct {
	rules   *RuleSet
	schemas []FieldSchema
	logger  *slog.Logger
}

// NewEngine creates a merge engine over the given rule set and field
// schemas. Nil arguments fall back to defaults.
func NewEngine(rules *RuleSet, schemas []FieldSchema, logger *slog.Logger) *Engine {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if schemas == nil {
		schemas = DefaultSchemas()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{rules: rules, schemas: schemas, logger: logger}
}

// Schemas returns the engine's field schemas.
func (e *Engine) Schemas() []FieldSchema {
	return e.schemas
}

// Normalize applies the rule set to a raw value.
func (e *Engine) Normalize(field, raw string) string {
	return e.rules.Normalize(field, raw)
}

// Apply writes a batch of extractions to the session per the tier rules.
// Re-applying an identical extraction overwrites rather than appends, so
// calls are idempotent. Fields the user has declined are never re-applied
// from file-derived signals.
func (e *Engine) Apply(state *session.State, exts []Extraction, source Source) *ApplyResult {
	result := &ApplyResult{}

	for _, ext := range exts {
		if ext.FieldName == "" || ext.NormalizedValue == "" {
			continue
		}
		if source == SourceFile && state.Declined(ext.FieldName) {
			continue
		}

		switch ext.Tier() {
		case TierHigh, TierMedium:
			if source == SourceUser {
				state.SetUserField(ext.FieldName, ext.NormalizedValue)
			} else {
				state.SetAutoField(ext.FieldName, ext.NormalizedValue)
			}
			result.Applied = append(result.Applied, ext)
			if ext.Tier() == TierMedium || ext.NeedsReview {
				result.Flagged = append(result.Flagged, ext)
			}
		case TierLow:
			result.FollowUps = append(result.FollowUps, e.followUpQuestion(ext))
		}
	}

	if len(result.Applied) > 0 {
		e.logger.Debug("Applied extracted metadata",
			"applied", len(result.Applied),
			"flagged", len(result.Flagged),
			"follow_ups", len(result.FollowUps))
	}
	return result
}

// followUpQuestion phrases a withheld low-confidence extraction as an
// explicit question instead of silently applying a guess.
func (e *Engine) followUpQuestion(ext Extraction) string {
	schema, ok := SchemaByName(e.schemas, ext.FieldName)
	desc := ext.FieldName
	if ok {
		desc = fmt.Sprintf("%s (%s)", ext.FieldName, schema.Description)
	}
	if ext.NormalizedValue != "" {
		return fmt.Sprintf("I think %s might be %q but I'm not sure — can you confirm?", desc, ext.NormalizedValue)
	}
	return fmt.Sprintf("Could you provide %s?", desc)
}

// MissingRequired lists required fields absent from the merged metadata and
// not declined by the user, sorted for stable prompts.
func (e *Engine) MissingRequired(state *session.State) []string {
	merged := state.MergedMetadata()
	var missing []string
	for _, schema := range e.schemas {
		if !schema.Required {
			continue
		}
		if strings.TrimSpace(merged[schema.Name]) != "" {
			continue
		}
		if state.Declined(schema.Name) {
			continue
		}
		missing = append(missing, schema.Name)
	}
	sort.Strings(missing)
	return missing
}

// CollectionPrompt builds the metadata-collection question for the missing
// required fields.
func (e *Engine) CollectionPrompt(missing []string) string {
	if len(missing) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("I need a few details before converting. Please provide:\n")
	for _, name := range missing {
		schema, ok := SchemaByName(e.schemas, name)
		sb.WriteString("- ")
		sb.WriteString(name)
		if ok && schema.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(schema.Description)
			if len(schema.Examples) > 0 {
				sb.WriteString(" (e.g., ")
				sb.WriteString(schema.Examples[0])
				sb.WriteString(")")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("You can also reply \"skip\" to proceed with minimal metadata.")
	return sb.String()
}
