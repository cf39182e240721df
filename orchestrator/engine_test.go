package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/router"
	"github.com/neurodataworks/conversant/session"
	"github.com/neurodataworks/conversant/validation"
)

// stubConverter is a scripted converter collaborator.
type stubConverter struct {
	detect       converter.DetectResult
	detectErr    error
	convertCalls int
	applyCalls   int
	appliedFixes [][]converter.Fix
	mergedSeen   []map[string]string
}

func (s *stubConverter) DetectFormat(_ context.Context, _ string) (*converter.DetectResult, error) {
	if s.detectErr != nil {
		return nil, s.detectErr
	}
	d := s.detect
	return &d, nil
}

func (s *stubConverter) RunConversion(_ context.Context, _ string, merged map[string]string) (*converter.ConvertResult, error) {
	s.convertCalls++
	copied := make(map[string]string, len(merged))
	for k, v := range merged {
		copied[k] = v
	}
	s.mergedSeen = append(s.mergedSeen, copied)
	return &converter.ConvertResult{
		OutputRef: fmt.Sprintf("/out/artifact-%d.nwb", s.convertCalls),
		Checksum:  "deadbeef",
	}, nil
}

func (s *stubConverter) ApplyCorrections(_ context.Context, outputRef string, fixes []converter.Fix) (string, error) {
	s.applyCalls++
	s.appliedFixes = append(s.appliedFixes, fixes)
	return fmt.Sprintf("%s.corrected-%d", outputRef, s.applyCalls), nil
}

// stubValidator replays a scripted result sequence, repeating the last
// result once the script is exhausted.
type stubValidator struct {
	results []*validation.Result
	calls   int
}

func (s *stubValidator) Validate(_ context.Context, _ string) (*validation.Result, error) {
	idx := s.calls
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	s.calls++
	return s.results[idx], nil
}

func passResult() *validation.Result {
	return &validation.Result{Outcome: validation.OutcomePassed}
}

func warningsResult() *validation.Result {
	issues := []validation.Issue{
		{Severity: validation.SeverityWarning, Message: "missing lab", Location: "/lab"},
		{Severity: validation.SeverityWarning, Message: "missing institution", Location: "/institution"},
	}
	return &validation.Result{Outcome: validation.OutcomePassedWithIssues, Issues: issues}
}

func failedResult() *validation.Result {
	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "missing species", Location: "/subject/species"},
	}
	return &validation.Result{Outcome: validation.OutcomeFailed, Issues: issues}
}

func newTestEngine(t *testing.T, conv *stubConverter, val *stubValidator) *Engine {
	t.Helper()
	eng, err := New(conv, val)
	require.NoError(t, err)
	return eng
}

// completeAnswer supplies every required field the filename cannot.
const completeAnswer = "identifier: sess-001, session description: extracellular recording from V1"

func startConversion(t *testing.T, eng *Engine) router.Response {
	t.Helper()
	resp := eng.SubmitFile(context.Background(), "/data/mouse_sub-012_20240315.rhd")
	require.Nil(t, resp.Error)

	// Filename signals cover subject, date, and species; the rest is asked
	// for in one collection round.
	require.Equal(t, session.StatusAwaitingUserInput.String(), resp.Result["status"])
	assert.Contains(t, resp.Result["prompt"], "identifier")
	return eng.SubmitUserMessage(context.Background(), completeAnswer)
}

func TestCleanPass(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])
	assert.Equal(t, validation.OutcomePassed.String(), resp.Result["outcome"])
	assert.Equal(t, "/out/artifact-1.nwb", resp.Result["output_ref"])

	snap := eng.CurrentStatus()
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonPassed, snap.Reason)
	assert.Equal(t, 0, snap.Attempt)
	assert.Equal(t, "intan", snap.Format)

	// The conversion saw both file-derived and user-provided metadata.
	require.Len(t, conv.mergedSeen, 1)
	assert.Equal(t, "Mus musculus", conv.mergedSeen[0]["species"])
	assert.Equal(t, "sess-001", conv.mergedSeen[0]["identifier"])
	assert.Equal(t, "sub-012", conv.mergedSeen[0]["subject_id"])

	ref, err := eng.DownloadArtifact()
	require.NoError(t, err)
	assert.Equal(t, "/out/artifact-1.nwb", ref)
}

func TestSkipProceedsWithMinimalMetadata(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := eng.SubmitFile(context.Background(), "/data/mouse_sub-012_20240315.rhd")
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingUserInput.String(), resp.Result["status"])

	resp = eng.SubmitUserMessage(context.Background(), "skip")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])

	snap := eng.CurrentStatus()
	assert.Equal(t, session.PolicyProceedingMinimal, snap.Policy)
	assert.NotEmpty(t, snap.Declined)
}

func TestPassedWithIssuesAccepted(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{warningsResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusAwaitingUserInput.String(), resp.Result["status"])
	assert.Equal(t, validation.OutcomePassedWithIssues.String(), resp.Result["outcome"])
	assert.Contains(t, resp.Result["prompt"], "accept")
	assert.Equal(t, false, resp.Result["no_progress"])

	snap := eng.CurrentStatus()
	assert.Equal(t, session.PhaseImprovementDecision, snap.Phase)
	assert.False(t, snap.Finalized)

	resp = eng.SubmitDecision(context.Background(), "accept")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])

	snap = eng.CurrentStatus()
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonPassedAccepted, snap.Reason)
	assert.Equal(t, validation.OutcomePassedWithIssues, snap.Outcome)
}

func TestPassedWithIssuesImproved(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	// Non-blocking issue on a field the session already knows, so the
	// correction is mechanical and the revalidation passes.
	improvable := &validation.Result{
		Outcome: validation.OutcomePassedWithIssues,
		Issues: []validation.Issue{
			{Severity: validation.SeverityWarning, Message: "missing species", Location: "/subject/species"},
		},
	}
	val := &stubValidator{results: []*validation.Result{improvable, passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, validation.OutcomePassedWithIssues.String(), resp.Result["outcome"])

	resp = eng.SubmitDecision(context.Background(), "improve")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])

	snap := eng.CurrentStatus()
	assert.Equal(t, session.ReasonPassedImproved, snap.Reason)
	assert.Equal(t, 1, snap.Attempt)

	// The fix was applied to the artifact rather than reconverting.
	require.Equal(t, 1, conv.applyCalls)
	require.Len(t, conv.appliedFixes[0], 1)
	assert.Equal(t, "species", conv.appliedFixes[0][0].Field)
	assert.Equal(t, "Mus musculus", conv.appliedFixes[0][0].Value)
	assert.Equal(t, 1, conv.convertCalls)
}

// invalidTimestampResult fails validation on a field whose rewrite needs
// explicit consent.
func invalidTimestampResult() *validation.Result {
	issues := []validation.Issue{
		{Severity: validation.SeverityError, Message: "invalid session_start_time: not ISO 8601", Location: "/session_start_time"},
	}
	return &validation.Result{Outcome: validation.OutcomeFailed, Issues: issues}
}

func TestConsentGatedFixAppliedOnApproval(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{invalidTimestampResult(), passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])

	// The correction cycle holds the timestamp rewrite for consent instead
	// of applying it or silently reconverting.
	resp = eng.SubmitDecision(context.Background(), "approve")
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingUserInput.String(), resp.Result["status"])
	assert.Contains(t, resp.Result["prompt"], "modifies existing data")
	assert.Contains(t, resp.Result["prompt"], "session_start_time")
	assert.Equal(t, session.PhaseApprovalDecision, eng.CurrentStatus().Phase)
	assert.Equal(t, 0, conv.applyCalls, "nothing applied before consent")
	assert.Equal(t, 1, conv.convertCalls, "no reconversion before consent")

	resp = eng.SubmitDecision(context.Background(), "approve")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])

	snap := eng.CurrentStatus()
	assert.Equal(t, session.ReasonPassedImproved, snap.Reason)
	assert.Equal(t, 1, snap.Attempt)

	// The approved fix carried the session's known timestamp value.
	require.Equal(t, 1, conv.applyCalls)
	require.Len(t, conv.appliedFixes[0], 1)
	assert.Equal(t, "session_start_time", conv.appliedFixes[0][0].Field)
	assert.Equal(t, "2024-03-15", conv.appliedFixes[0][0].Value)
	assert.Equal(t, 1, conv.convertCalls)
}

func TestConsentGatedFixSkipped(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{invalidTimestampResult(), passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])

	resp = eng.SubmitDecision(context.Background(), "approve")
	require.Nil(t, resp.Error)
	require.Equal(t, session.PhaseApprovalDecision, eng.CurrentStatus().Phase)

	// Declining consent leaves the existing value untouched and finishes the
	// cycle without it.
	resp = eng.SubmitUserMessage(context.Background(), "skip")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusCompleted.String(), resp.Result["status"])

	assert.Equal(t, 0, conv.applyCalls, "skipped fixes are never applied")
	assert.Equal(t, 2, conv.convertCalls, "the cycle reconverts instead")
	assert.Equal(t, 1, eng.CurrentStatus().Attempt)
}

func TestRetryLimitExceeded(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	// Every validation fails with the same auto-fixable issue.
	val := &stubValidator{results: []*validation.Result{failedResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])
	assert.Contains(t, resp.Result["prompt"], "approve")
	assert.Equal(t, false, resp.Result["no_progress"])

	for attempt := 1; attempt < session.MaxRetryAttempts; attempt++ {
		resp = eng.SubmitDecision(context.Background(), "approve")
		require.Nil(t, resp.Error, "attempt %d", attempt)
		assert.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])
		// The same issue set persisting across cycles is called out.
		assert.Equal(t, true, resp.Result["no_progress"], "attempt %d", attempt)
		assert.Equal(t, attempt, eng.CurrentStatus().Attempt)
	}

	resp = eng.SubmitDecision(context.Background(), "approve")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusFailed.String(), resp.Result["status"])
	assert.Contains(t, resp.Result["reply"], "Manual intervention")

	snap := eng.CurrentStatus()
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonRetryLimitExceeded, snap.Reason)
	assert.Equal(t, session.MaxRetryAttempts, snap.Attempt)
	assert.Equal(t, session.MaxRetryAttempts, conv.applyCalls)

	// The frozen session rejects further decisions.
	resp = eng.SubmitDecision(context.Background(), "approve")
	require.NotNil(t, resp.Error)
	assert.Equal(t, router.CodeInvalidStateTransition, resp.Error.Code)
}

func TestRetryDeclined(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{failedResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])

	resp = eng.SubmitDecision(context.Background(), "decline")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusFailed.String(), resp.Result["status"])

	snap := eng.CurrentStatus()
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonUserDeclined, snap.Reason)
}

func TestCancellationDuringMetadataCollection(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := eng.SubmitFile(context.Background(), "/data/mouse_sub-012_20240315.rhd")
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingUserInput.String(), resp.Result["status"])

	resp = eng.SubmitUserMessage(context.Background(), "cancel")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusFailed.String(), resp.Result["status"])
	assert.Contains(t, resp.Result["reply"], "cancelled")

	snap := eng.CurrentStatus()
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonUserAbandoned, snap.Reason)
	assert.Equal(t, 0, conv.convertCalls, "no conversion after cancellation")

	// A new submission starts over from a clean session.
	resp = eng.SubmitFile(context.Background(), "/data/mouse_sub-012_20240315.rhd")
	require.Nil(t, resp.Error)
	snap = eng.CurrentStatus()
	assert.False(t, snap.Finalized)
	assert.Equal(t, session.ReasonNone, snap.Reason)
}

func TestRetryCancellation(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{failedResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])

	// Free-text cancellation works at the retry decision point too.
	resp = eng.SubmitUserMessage(context.Background(), "cancel")
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusFailed.String(), resp.Result["status"])
	assert.Equal(t, session.ReasonUserAbandoned, eng.CurrentStatus().Reason)
}

func TestNewUploadAtSuspensionPointStartsOver(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{failedResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusAwaitingRetryApproval.String(), resp.Result["status"])

	// A new submission while suspended abandons the old session.
	resp = eng.SubmitFile(context.Background(), "/data/another.rhd")
	require.Nil(t, resp.Error)

	snap := eng.CurrentStatus()
	assert.Equal(t, "/data/another.rhd", snap.InputRef)
	assert.Equal(t, 0, snap.Attempt)
	assert.Empty(t, snap.Issues)
}

func TestDetectionFailureFailsSession(t *testing.T) {
	conv := &stubConverter{detectErr: fmt.Errorf("unreadable input")}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := eng.SubmitFile(context.Background(), "/data/broken.rhd")
	require.NotNil(t, resp.Error)
	assert.Equal(t, router.CodeCollaboratorFailure, resp.Error.Code)

	// The session is frozen with a self-describing terminal observation.
	snap := eng.CurrentStatus()
	assert.Equal(t, session.StatusFailed, snap.Status)
	assert.True(t, snap.Finalized)
	assert.Equal(t, session.ReasonCollaboratorFailure, snap.Reason)
}

func TestStatusAndReset(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := startConversion(t, eng)
	require.Nil(t, resp.Error)
	require.Equal(t, session.StatusCompleted, eng.CurrentStatus().Status)

	resp = eng.Reset(context.Background())
	require.Nil(t, resp.Error)
	assert.Equal(t, session.StatusIdle.String(), resp.Result["status"])

	snap := eng.CurrentStatus()
	assert.Equal(t, session.StatusIdle, snap.Status)
	assert.Empty(t, snap.InputRef)

	_, err := eng.DownloadArtifact()
	assert.Error(t, err)
}

func TestMissingInputRef(t *testing.T) {
	conv := &stubConverter{detect: converter.DetectResult{Format: "intan", Confidence: 0.85}}
	val := &stubValidator{results: []*validation.Result{passResult()}}
	eng := newTestEngine(t, conv, val)

	resp := eng.SubmitFile(context.Background(), "")
	require.NotNil(t, resp.Error)
	assert.Equal(t, router.CodeInvalidInput, resp.Error.Code)
}
