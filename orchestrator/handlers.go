package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/llm"
	"github.com/neurodataworks/conversant/metadata"
	"github.com/neurodataworks/conversant/router"
	"github.com/neurodataworks/conversant/session"
)

// handleStartConversion accepts a file submission, detects its format,
// harvests file-derived metadata, and either asks for missing required
// fields or proceeds straight into conversion.
func (e *Engine) handleStartConversion(ctx context.Context, msg router.Message, state *session.State) (map[string]any, error) {
	inputRef := msg.String("input_ref")
	if inputRef == "" {
		return nil, router.Errorf(router.CodeInvalidInput, "input_ref is required")
	}

	if !state.CanAcceptUpload() {
		return nil, router.Errorf(router.CodeInvalidStateTransition,
			"a conversion is already in progress (status %s)", state.Status())
	}

	// A new upload always starts from a clean session.
	if state.Status() != session.StatusIdle {
		state.Reset()
		e.clearPendingPlan()
	}

	e.metrics.ObserveStart()

	if err := state.Transition(session.StatusUploading); err != nil {
		return nil, err
	}
	state.SetInput(inputRef)
	if err := state.Transition(session.StatusDetectingFormat); err != nil {
		return nil, err
	}

	callCtx, cancel := e.callCtx(ctx)
	detected, err := e.converter.DetectFormat(callCtx, inputRef)
	cancel()
	if err != nil {
		state.Log("error", "detect", err.Error())
		if ferr := e.finalize(session.StatusFailed, session.ReasonCollaboratorFailure); ferr != nil {
			e.logger.Warn("Cannot mark session failed after detection error", "error", ferr)
		}
		return nil, err
	}
	state.SetFormat(detected.Format, detected.Confidence)
	state.Log("info", "detect", fmt.Sprintf("detected format %s (confidence %.2f)", detected.Format, detected.Confidence))
	e.logger.Info("Format detected",
		"input_ref", inputRef,
		"format", detected.Format,
		"confidence", detected.Confidence)

	// Harvest what the file itself can tell us before asking the user.
	e.meta.Apply(state, e.meta.ExtractFromFilename(filepath.Base(inputRef)), metadata.SourceFile)
	if header := headerFields(msg); len(header) > 0 {
		e.meta.Apply(state, e.meta.ExtractFromHeader(header), metadata.SourceFile)
	}

	if prompt := e.maybeAskForMetadata(state); prompt != "" {
		e.publishStatus()
		return map[string]any{
			"status": state.Status().String(),
			"format": detected.Format,
			"prompt": prompt,
		}, nil
	}

	return e.convertAndValidate(ctx, state)
}

// maybeAskForMetadata suspends into metadata collection when required
// fields are missing and the user has not yet been asked. Returns the
// prompt, or "" to proceed.
func (e *Engine) maybeAskForMetadata(state *session.State) string {
	missing := e.meta.MissingRequired(state)
	if len(missing) == 0 || state.Policy() != session.PolicyNotAsked {
		return ""
	}

	prompt := e.meta.CollectionPrompt(missing)
	if err := state.Transition(session.StatusAwaitingUserInput); err != nil {
		e.logger.Warn("Cannot suspend for metadata collection", "error", err)
		return ""
	}
	state.SetPhase(session.PhaseMetadataCollection)
	state.SetPolicy(session.PolicyAskedOnce)
	state.AppendHistory("assistant", prompt)
	return prompt
}

// handleUserResponse processes a user utterance at the current suspension
// point. Cancellation is checked first, at every suspension point.
func (e *Engine) handleUserResponse(ctx context.Context, msg router.Message, state *session.State) (map[string]any, error) {
	text := strings.TrimSpace(msg.String("text"))
	if text == "" {
		return nil, router.Errorf(router.CodeInvalidInput, "text is required")
	}

	state.AppendHistory("user", text)

	if isCancellation(text) {
		if err := e.finalize(session.StatusFailed, session.ReasonUserAbandoned); err != nil {
			return nil, err
		}
		return map[string]any{
			"status": state.Status().String(),
			"reply":  "Conversion cancelled. Submit a new file to start over.",
		}, nil
	}

	switch state.Phase() {
	case session.PhaseMetadataCollection:
		return e.continueMetadataCollection(ctx, state, text)
	case session.PhaseImprovementDecision:
		return e.decideImprovement(ctx, state, interpretImprovement(text))
	case session.PhaseApprovalDecision:
		return e.decideApproval(ctx, state, interpretApproval(text))
	case session.PhaseValidationAnalysis:
		if state.Status() == session.StatusAwaitingRetryApproval {
			return e.decideRetry(ctx, state, interpretRetry(text))
		}
		return e.continueValidationAnalysis(ctx, state, text)
	default:
		return map[string]any{
			"status": state.Status().String(),
			"reply":  "Nothing is awaiting your input. Submit a file to start a conversion.",
		}, nil
	}
}

// continueMetadataCollection folds a user answer into the metadata and
// either re-asks for what is still missing or proceeds to conversion.
func (e *Engine) continueMetadataCollection(ctx context.Context, state *session.State, text string) (map[string]any, error) {
	if isDecline(text) {
		for _, field := range e.meta.MissingRequired(state) {
			state.DeclineField(field)
		}
		state.SetPolicy(session.PolicyProceedingMinimal)
		state.AppendHistory("assistant", "Proceeding with the metadata available.")
		if err := state.Transition(session.StatusConverting); err != nil {
			return nil, err
		}
		return e.resumeConversion(ctx, state)
	}

	applied, err := e.extractFromUtterance(ctx, state, text)
	if err != nil {
		return nil, err
	}
	if applied > 0 {
		state.SetPolicy(session.PolicyUserProvided)
	}

	if missing := e.meta.MissingRequired(state); len(missing) > 0 {
		prompt := e.meta.CollectionPrompt(missing)
		state.AppendHistory("assistant", prompt)
		return map[string]any{
			"status": state.Status().String(),
			"prompt": prompt,
		}, nil
	}

	if err := state.Transition(session.StatusConverting); err != nil {
		return nil, err
	}
	return e.resumeConversion(ctx, state)
}

// decideApproval resolves consent for fixes that modify existing data.
// Approval applies them together with the cycle's automatic fixes; skipping
// leaves the existing values untouched and continues the cycle without them.
func (e *Engine) decideApproval(ctx context.Context, state *session.State, decision string) (map[string]any, error) {
	plan, autoFixes := e.pendingPlan, e.pendingAutoFixes
	if plan == nil {
		return nil, router.Errorf(router.CodeInvalidStateTransition, "no fix approval pending")
	}

	switch decision {
	case "approve":
		e.clearPendingPlan()
		fixes := make([]converter.Fix, 0, len(autoFixes))
		fixes = append(fixes, autoFixes...)
		fixes = append(fixes, plan.ApprovalFixes(state.MergedMetadata())...)
		state.Log("info", "correct", fmt.Sprintf("user approved %d consent-gated fix(es)", len(fixes)-len(autoFixes)))
		return e.continueCorrection(ctx, state, plan, fixes, nil)
	case "skip":
		e.clearPendingPlan()
		state.Log("info", "correct", "user skipped consent-gated fixes")
		return e.continueCorrection(ctx, state, plan, autoFixes, nil)
	default:
		return nil, router.Errorf(router.CodeInvalidInput,
			"expected approve or skip, got %q", decision)
	}
}

// continueValidationAnalysis folds answers to correction questions into
// the metadata and runs the next correction cycle.
func (e *Engine) continueValidationAnalysis(ctx context.Context, state *session.State, text string) (map[string]any, error) {
	if isDecline(text) {
		if err := e.finalize(session.StatusFailed, session.ReasonUserDeclined); err != nil {
			return nil, err
		}
		return map[string]any{
			"status": state.Status().String(),
			"reply":  "Stopping here. The last converted artifact did not pass validation.",
		}, nil
	}

	if _, err := e.extractFromUtterance(ctx, state, text); err != nil {
		return nil, err
	}

	// The cycle that suspended already consumed an attempt; resume it with
	// the new metadata rather than starting another.
	if err := state.Transition(session.StatusConverting); err != nil {
		return nil, err
	}
	return e.resumeConversion(ctx, state)
}

// extractFromUtterance pulls metadata fields from a user message, using
// the language service when available and falling back to the
// deterministic rule-based extractor. Returns the number of fields applied.
func (e *Engine) extractFromUtterance(ctx context.Context, state *session.State, text string) (int, error) {
	var exts []metadata.Extraction

	if e.language.Available() {
		callCtx, cancel := e.callCtx(ctx)
		llmExts, err := e.language.ExtractFields(callCtx, text, e.meta.Schemas())
		cancel()
		switch {
		case err == nil:
			e.metrics.ObserveLanguageCall("extract_fields", "ok")
			exts = llmExts
		case errors.Is(err, llm.ErrBusy):
			e.metrics.ObserveLanguageCall("extract_fields", "busy")
			return 0, router.Errorf(router.CodeConcurrentBusy,
				"another request is being processed, try again shortly")
		default:
			e.metrics.ObserveLanguageCall("extract_fields", "error")
			e.logger.Warn("Language extraction failed, falling back to rules", "error", err)
			exts = e.meta.ExtractFromUtterance(text)
		}
	} else {
		e.metrics.ObserveLanguageCall("extract_fields", "degraded")
		exts = e.meta.ExtractFromUtterance(text)
	}

	result := e.meta.Apply(state, exts, metadata.SourceUser)
	for _, q := range result.FollowUps {
		state.AppendHistory("assistant", q)
	}
	return len(result.Applied), nil
}

// handleImprovementDecision reacts to accept|improve after a
// passed-with-issues validation.
func (e *Engine) handleImprovementDecision(ctx context.Context, msg router.Message, state *session.State) (map[string]any, error) {
	decision := msg.String("decision")
	if state.Status() != session.StatusAwaitingUserInput || state.Phase() != session.PhaseImprovementDecision {
		return nil, router.Errorf(router.CodeInvalidStateTransition,
			"no improvement decision pending (status %s, phase %s)", state.Status(), state.Phase())
	}
	return e.decideImprovement(ctx, state, decision)
}

func (e *Engine) decideImprovement(ctx context.Context, state *session.State, decision string) (map[string]any, error) {
	switch decision {
	case "accept":
		if err := state.SetValidationResult(state.Outcome(), session.StatusCompleted, session.PhaseIdle); err != nil {
			return nil, err
		}
		if err := e.finalize(session.StatusCompleted, session.ReasonPassedAccepted); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":     state.Status().String(),
			"output_ref": state.OutputRef(),
			"reply":      "Conversion complete. Remaining issues were accepted as-is.",
		}, nil
	case "improve":
		return e.runCorrectionCycle(ctx, state)
	default:
		return nil, router.Errorf(router.CodeInvalidInput,
			"expected decision accept or improve, got %q", decision)
	}
}

// handleRetryDecision reacts to approve|decline|cancel after a failed
// validation.
func (e *Engine) handleRetryDecision(ctx context.Context, msg router.Message, state *session.State) (map[string]any, error) {
	decision := msg.String("decision")
	if state.Status() != session.StatusAwaitingRetryApproval {
		return nil, router.Errorf(router.CodeInvalidStateTransition,
			"no retry approval pending (status %s)", state.Status())
	}
	return e.decideRetry(ctx, state, decision)
}

func (e *Engine) decideRetry(ctx context.Context, state *session.State, decision string) (map[string]any, error) {
	switch decision {
	case "approve":
		return e.runCorrectionCycle(ctx, state)
	case "decline":
		if err := e.finalize(session.StatusFailed, session.ReasonUserDeclined); err != nil {
			return nil, err
		}
		return map[string]any{
			"status": state.Status().String(),
			"reply":  "Stopping here. The converted artifact did not pass validation.",
		}, nil
	case "cancel":
		if err := e.finalize(session.StatusFailed, session.ReasonUserAbandoned); err != nil {
			return nil, err
		}
		return map[string]any{
			"status": state.Status().String(),
			"reply":  "Conversion cancelled.",
		}, nil
	default:
		return nil, router.Errorf(router.CodeInvalidInput,
			"expected decision approve, decline, or cancel, got %q", decision)
	}
}

// handleStatus returns a consistent snapshot of the session.
func (e *Engine) handleStatus(_ context.Context, _ router.Message, state *session.State) (map[string]any, error) {
	return map[string]any{"snapshot": state.Snapshot()}, nil
}

// handleReset clears the session for a fresh conversion.
func (e *Engine) handleReset(_ context.Context, _ router.Message, state *session.State) (map[string]any, error) {
	state.Reset()
	e.clearPendingPlan()
	e.publishStatus()
	e.logger.Info("Session reset")
	return map[string]any{"status": state.Status().String()}, nil
}

// headerFields reads optional file header fields from the message payload.
func headerFields(msg router.Message) map[string]string {
	raw, ok := msg.Context["header"].(map[string]any)
	if !ok {
		return nil
	}
	header := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			header[k] = s
		}
	}
	return header
}
