package session

import (
	"sort"

	"github.com/neurodataworks/conversant/validation"
)

// SetAutoField records a machine-extracted metadata value. Re-applying an
// identical field overwrites rather than appends, so repeated extraction is
// idempotent. The merged view is recomputed immediately.
func (s *State) SetAutoField(field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auto[field] = value
	s.mergeLocked()
}

// SetUserField records a user-supplied metadata value. User values always
// win on merge.
func (s *State) SetUserField(field, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user[field] = value
	s.mergeLocked()
}

// DeclineField records that the user explicitly refused to provide a field.
func (s *State) DeclineField(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.declined[field] = struct{}{}
}

// DeclinedFields returns the set of fields the user refused to provide,
// sorted for stable output.
func (s *State) DeclinedFields() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := make([]string, 0, len(s.declined))
	for f := range s.declined {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

// Declined reports whether the user refused to provide the field.
func (s *State) Declined(field string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.declined[field]
	return ok
}

// mergeLocked recomputes the merged view from scratch: user values win,
// auto-extracted values fill the rest. Recomputing on every update keeps the
// merged map from ever serving a stale value. Callers must hold s.mu.
func (s *State) mergeLocked() {
	merged := make(map[string]string, len(s.auto)+len(s.user))
	for k, v := range s.auto {
		merged[k] = v
	}
	for k, v := range s.user {
		merged[k] = v
	}
	s.merged = merged
}

// MergedMetadata returns a copy of the merged metadata view.
func (s *State) MergedMetadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.merged)
}

// AutoMetadata returns a copy of the machine-extracted metadata.
func (s *State) AutoMetadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.auto)
}

// UserMetadata returns a copy of the user-supplied metadata.
func (s *State) UserMetadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMap(s.user)
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetIssues installs a new validation issue set, retaining the previous set
// so a later cycle can detect lack of progress.
func (s *State) SetIssues(issues []validation.Issue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevIssues = s.issues
	s.issues = append([]validation.Issue(nil), issues...)
}

// Issues returns a copy of the current validation issue set.
func (s *State) Issues() []validation.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validation.Issue(nil), s.issues...)
}

// PreviousIssues returns a copy of the prior cycle's issue set.
func (s *State) PreviousIssues() []validation.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]validation.Issue(nil), s.prevIssues...)
}
