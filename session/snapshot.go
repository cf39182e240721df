package session

import "github.com/neurodataworks/conversant/validation"

// Snapshot is a consistent read of the session taken under one lock
// acquisition, for status rendering and event publishing.
type Snapshot struct {
	ID               string             `json:"id"`
	InputRef         string             `json:"input_ref,omitempty"`
	OutputRef        string             `json:"output_ref,omitempty"`
	Checksum         string             `json:"checksum,omitempty"`
	Format           string             `json:"format,omitempty"`
	FormatConfidence float64            `json:"format_confidence,omitempty"`
	Status           Status             `json:"status"`
	Outcome          validation.Outcome `json:"outcome,omitempty"`
	Phase            Phase              `json:"phase"`
	Policy           MetadataPolicy     `json:"metadata_policy"`
	Attempt          int                `json:"correction_attempt"`
	Finalized        bool               `json:"finalized"`
	Reason           Reason             `json:"reason,omitempty"`
	Merged           map[string]string  `json:"merged_metadata,omitempty"`
	Declined         []string           `json:"declined_fields,omitempty"`
	Issues           []validation.Issue `json:"validation_issues,omitempty"`
	HistoryLen       int                `json:"history_len"`
}

// Snapshot returns a consistent copy of the session state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	declined := make([]string, 0, len(s.declined))
	for f := range s.declined {
		declined = append(declined, f)
	}

	return Snapshot{
		ID:               s.id,
		InputRef:         s.inputRef,
		OutputRef:        s.outputRef,
		Checksum:         s.checksum,
		Format:           s.format,
		FormatConfidence: s.formatConfidence,
		Status:           s.status,
		Outcome:          s.outcome,
		Phase:            s.phase,
		Policy:           s.policy,
		Attempt:          s.attempt,
		Finalized:        s.finalized,
		Reason:           s.reason,
		Merged:           copyMap(s.merged),
		Declined:         declined,
		Issues:           append([]validation.Issue(nil), s.issues...),
		HistoryLen:       len(s.history),
	}
}
