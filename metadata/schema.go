// Package metadata turns free-text user input and file-derived signals into
// normalized descriptive fields with confidence scores, and applies them to
// the session with confidence-tier rules: high-confidence values apply
// silently, medium-confidence values apply but are flagged for review, and
// low-confidence values are withheld and surfaced as follow-up questions.
package metadata

// FieldSchema describes one descriptive field the archival format expects.
type FieldSchema struct {
	// Name is the canonical field name.
	Name string `json:"name" yaml:"name"`

	// Description is shown to the user and to the extraction service.
	Description string `json:"description" yaml:"description"`

	// Required marks fields the metadata-collection dialogue asks for.
	Required bool `json:"required" yaml:"required"`

	// Examples guide extraction and user prompts.
	Examples []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// DefaultSchemas returns the descriptive fields collected for an archival
// conversion.
func DefaultSchemas() []FieldSchema {
	return []FieldSchema{
		{
			Name:        "session_description",
			Description: "What was recorded during this session",
			Required:    true,
			Examples:    []string{"Extracellular recording from mouse V1 during visual stimulation"},
		},
		{
			Name:        "identifier",
			Description: "Unique identifier for the output file",
			Required:    true,
		},
		{
			Name:        "session_start_time",
			Description: "When the recording started (ISO 8601)",
			Required:    true,
			Examples:    []string{"2024-03-15T09:30:00"},
		},
		{
			Name:        "subject_id",
			Description: "Identifier of the experimental subject",
			Required:    true,
			Examples:    []string{"mouse-042"},
		},
		{
			Name:        "species",
			Description: "Subject species as a Latin binomial",
			Required:    true,
			Examples:    []string{"Mus musculus", "Rattus norvegicus"},
		},
		{
			Name:        "sex",
			Description: "Subject sex code: M, F, U, or O",
			Required:    false,
			Examples:    []string{"M", "F"},
		},
		{
			Name:        "experimenter",
			Description: "Who performed the recording",
			Required:    false,
		},
		{
			Name:        "institution",
			Description: "Institution where the data was recorded",
			Required:    false,
		},
		{
			Name:        "lab",
			Description: "Lab where the data was recorded",
			Required:    false,
		},
		{
			Name:        "device",
			Description: "Acquisition system used for the recording",
			Required:    false,
			Examples:    []string{"Neuropixels 1.0", "Open Ephys"},
		},
	}
}

// SchemaByName returns the schema for a field name, if known.
func SchemaByName(schemas []FieldSchema, name string) (FieldSchema, bool) {
	for _, s := range schemas {
		if s.Name == name {
			return s, true
		}
	}
	return FieldSchema{}, false
}

// RequiredFields lists the names of required fields.
func RequiredFields(schemas []FieldSchema) []string {
	var names []string
	for _, s := range schemas {
		if s.Required {
			names = append(names, s.Name)
		}
	}
	return names
}
