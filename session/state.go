package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurodataworks/conversant/validation"
)

const (
	// MaxRetryAttempts bounds the correction loop. Once the attempt count
	// reaches this value no further converting transition is reachable.
	MaxRetryAttempts = 5

	// HistoryLimit bounds the conversation history; the oldest entry is
	// evicted on overflow.
	HistoryLimit = 50
)

// TransitionError reports a rejected status transition.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s -> %s", e.From, e.To)
}

// HistoryEntry is one turn of the conversation.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// LogEntry is one structured diagnostic entry in the session log.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// State is the single shared mutable record for the active conversion.
// Handlers receive it by injection from the router; every mutation happens
// under the internal lock, and SetValidationResult updates outcome, status,
// and phase as one atomic unit so readers never observe a torn update.
type State struct {
	mu sync.Mutex

	id string

	inputRef         string
	outputRef        string
	checksum         string
	format           string
	formatConfidence float64

	status    Status
	outcome   validation.Outcome
	phase     Phase
	policy    MetadataPolicy
	attempt   int
	finalized bool
	reason    Reason

	auto     map[string]string
	user     map[string]string
	merged   map[string]string
	declined map[string]struct{}

	history    []HistoryEntry
	issues     []validation.Issue
	prevIssues []validation.Issue
	logs       []LogEntry
}

// New creates a fresh session state in the idle status.
func New() *State {
	s := &State{}
	s.resetLocked()
	return s
}

// resetLocked reinitializes every field. Callers must hold s.mu (or own the
// State exclusively, as New does). Partial resets are a known failure mode,
// so every field is listed here rather than selectively cleared.
func (s *State) resetLocked() {
	s.id = uuid.New().String()
	s.inputRef = ""
	s.outputRef = ""
	s.checksum = ""
	s.format = ""
	s.formatConfidence = 0
	s.status = StatusIdle
	s.outcome = validation.OutcomeNone
	s.phase = PhaseIdle
	s.policy = PolicyNotAsked
	s.attempt = 0
	s.finalized = false
	s.reason = ReasonNone
	s.auto = make(map[string]string)
	s.user = make(map[string]string)
	s.merged = make(map[string]string)
	s.declined = make(map[string]struct{})
	s.history = nil
	s.issues = nil
	s.prevIssues = nil
	s.logs = nil
}

// Reset clears the whole session atomically under lock.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// ID returns the session identifier.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Status returns the current pipeline status.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Phase returns the current conversation phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Policy returns the metadata collection policy.
func (s *State) Policy() MetadataPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy records the metadata collection policy.
func (s *State) SetPolicy(p MetadataPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = p
}

// Outcome returns the validation outcome of the latest validation pass.
func (s *State) Outcome() validation.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Reason returns the terminal sub-reason, or ReasonNone.
func (s *State) Reason() Reason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Finalized reports whether the session has been frozen.
func (s *State) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}

// Transition moves the pipeline to the target status, rejecting transitions
// not in the table and any mutation of a finalized session.
func (s *State) Transition(target Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(target)
}

func (s *State) transitionLocked(target Status) error {
	if s.finalized {
		return &TransitionError{From: s.status, To: target}
	}
	// Re-entering the current status is a no-op, not a violation.
	if target != s.status && !s.status.CanTransitionTo(target) {
		return &TransitionError{From: s.status, To: target}
	}
	s.status = target
	return nil
}

// SetPhase records the conversation phase.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// SetValidationResult updates validation outcome, pipeline status, and
// conversation phase as one atomic unit. Readers never observe one field
// updated and another stale.
func (s *State) SetValidationResult(outcome validation.Outcome, status Status, phase Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(status); err != nil {
		return err
	}
	s.outcome = outcome
	s.phase = phase
	return nil
}

// Finalize freezes the session in a terminal status with the given reason.
// All further mutation except Reset is rejected.
func (s *State) Finalize(status Status, reason Reason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !status.Terminal() {
		return fmt.Errorf("finalize requires a terminal status, got %s", status)
	}
	if err := s.transitionLocked(status); err != nil {
		return err
	}
	s.finalized = true
	s.reason = reason
	s.phase = PhaseIdle
	return nil
}

// CanAcceptUpload reports whether a new file submission is allowed.
func (s *State) CanAcceptUpload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.status.MidPipeline()
}

// CanStartConversion reports whether conversion may start: an input must be
// registered and the pipeline must not already be mid-flight.
func (s *State) CanStartConversion() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputRef != "" && !s.status.MidPipeline() && !s.finalized
}

// CanRetry reports whether the correction budget allows another cycle.
func (s *State) CanRetry() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt < MaxRetryAttempts
}

// Attempt returns the current correction attempt count.
func (s *State) Attempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempt
}

// IncrementAttempt advances the correction attempt counter and returns the
// new count. The counter never exceeds MaxRetryAttempts.
func (s *State) IncrementAttempt() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attempt < MaxRetryAttempts {
		s.attempt++
	}
	return s.attempt
}

// SetInput registers the submitted input reference.
func (s *State) SetInput(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inputRef = ref
}

// InputRef returns the submitted input reference.
func (s *State) InputRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputRef
}

// SetFormat records the detected input format.
func (s *State) SetFormat(format string, confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = format
	s.formatConfidence = confidence
}

// SetOutput records the converted artifact reference and checksum.
func (s *State) SetOutput(ref, checksum string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputRef = ref
	s.checksum = checksum
}

// OutputRef returns the converted artifact reference.
func (s *State) OutputRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputRef
}
