// Package session holds the shared workflow state for a single active
// conversion: pipeline status, validation outcome, conversation phase,
// metadata maps, retry count, and bounded conversation history. All mutation
// goes through locked methods on State; handlers receive the State handle by
// injection and never share it through globals.
package session

// Status is the pipeline state of the active conversion.
type Status string

const (
	// StatusIdle means no conversion is in progress.
	StatusIdle Status = "idle"
	// StatusUploading means an input file is being registered.
	StatusUploading Status = "uploading"
	// StatusDetectingFormat means format detection is running.
	StatusDetectingFormat Status = "detecting_format"
	// StatusConverting means the conversion engine is running.
	StatusConverting Status = "converting"
	// StatusValidating means schema validation is running.
	StatusValidating Status = "validating"
	// StatusAwaitingUserInput means the pipeline is suspended on a user reply.
	StatusAwaitingUserInput Status = "awaiting_user_input"
	// StatusAwaitingRetryApproval means a failed validation needs a user
	// decision before another correction cycle may start.
	StatusAwaitingRetryApproval Status = "awaiting_retry_approval"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal failure.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known pipeline state.
func (s Status) IsValid() bool {
	switch s {
	case StatusIdle, StatusUploading, StatusDetectingFormat, StatusConverting,
		StatusValidating, StatusAwaitingUserInput, StatusAwaitingRetryApproval,
		StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// MidPipeline returns true while an external stage is actively running.
// New uploads are rejected in these states.
func (s Status) MidPipeline() bool {
	switch s {
	case StatusUploading, StatusDetectingFormat, StatusConverting, StatusValidating:
		return true
	default:
		return false
	}
}

// Terminal returns true for states that only an explicit reset can leave.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo returns true if the status may transition to the target.
// Any state may fail (cancellation short-circuits from every suspension
// point); terminal states accept no transitions.
func (s Status) CanTransitionTo(target Status) bool {
	if s.Terminal() {
		return false
	}
	if target == StatusFailed {
		return true
	}

	switch s {
	case StatusIdle:
		return target == StatusUploading
	case StatusUploading:
		return target == StatusDetectingFormat
	case StatusDetectingFormat:
		// Straight to converting when metadata is already complete,
		// otherwise suspend for metadata collection.
		return target == StatusAwaitingUserInput || target == StatusConverting
	case StatusConverting:
		return target == StatusValidating || target == StatusAwaitingRetryApproval
	case StatusValidating:
		return target == StatusCompleted ||
			target == StatusAwaitingUserInput ||
			target == StatusAwaitingRetryApproval
	case StatusAwaitingUserInput:
		return target == StatusConverting || target == StatusCompleted
	case StatusAwaitingRetryApproval:
		// A correction cycle that needs user-supplied values suspends
		// for input instead of converting immediately.
		return target == StatusConverting || target == StatusAwaitingUserInput
	default:
		return false
	}
}

// Phase is the conversation phase the user-facing dialogue is in.
type Phase string

const (
	// PhaseIdle means no dialogue is active.
	PhaseIdle Phase = "idle"
	// PhaseMetadataCollection means the dialogue is gathering descriptive fields.
	PhaseMetadataCollection Phase = "metadata_collection"
	// PhaseValidationAnalysis means the dialogue is discussing validation issues.
	PhaseValidationAnalysis Phase = "validation_analysis"
	// PhaseImprovementDecision means the user is deciding accept-vs-improve.
	PhaseImprovementDecision Phase = "improvement_decision"
	// PhaseApprovalDecision means the user is deciding whether consent-gated
	// fixes that modify existing data may be applied.
	PhaseApprovalDecision Phase = "approval_decision"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsValid returns true if the phase is a known conversation phase.
func (p Phase) IsValid() bool {
	switch p {
	case PhaseIdle, PhaseMetadataCollection, PhaseValidationAnalysis,
		PhaseImprovementDecision, PhaseApprovalDecision:
		return true
	default:
		return false
	}
}

// MetadataPolicy tracks how the metadata-collection dialogue has resolved.
type MetadataPolicy string

const (
	// PolicyNotAsked means the user has not been asked for metadata yet.
	PolicyNotAsked MetadataPolicy = "not_asked"
	// PolicyAskedOnce means the first metadata question has been issued.
	PolicyAskedOnce MetadataPolicy = "asked_once"
	// PolicyUserProvided means the user supplied metadata.
	PolicyUserProvided MetadataPolicy = "user_provided"
	// PolicyUserDeclined means the user refused to supply metadata.
	PolicyUserDeclined MetadataPolicy = "user_declined"
	// PolicyProceedingMinimal means conversion proceeds with whatever
	// could be extracted automatically.
	PolicyProceedingMinimal MetadataPolicy = "proceeding_minimal"
)

// String returns the string representation of the policy.
func (p MetadataPolicy) String() string {
	return string(p)
}

// Reason is the sub-reason recorded when a session reaches a terminal state.
type Reason string

const (
	// ReasonNone means the session is not terminal.
	ReasonNone Reason = ""
	// ReasonPassed means validation passed cleanly on the first pass.
	ReasonPassed Reason = "passed"
	// ReasonPassedAccepted means the user accepted a pass with issues.
	ReasonPassedAccepted Reason = "passed_accepted"
	// ReasonPassedImproved means correction cycles led to a clean pass.
	ReasonPassedImproved Reason = "passed_improved"
	// ReasonRetryLimitExceeded means the correction budget was exhausted.
	ReasonRetryLimitExceeded Reason = "retry_limit_exceeded"
	// ReasonUserDeclined means the user declined further correction.
	ReasonUserDeclined Reason = "user_declined"
	// ReasonUserAbandoned means the user cancelled the session.
	ReasonUserAbandoned Reason = "user_abandoned"
	// ReasonCollaboratorFailure means an external collaborator failed before
	// the pipeline reached a user decision point.
	ReasonCollaboratorFailure Reason = "collaborator_failure"
)

// String returns the string representation of the reason.
func (r Reason) String() string {
	return string(r)
}
