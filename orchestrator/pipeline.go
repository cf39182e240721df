package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/correction"
	"github.com/neurodataworks/conversant/llm"
	"github.com/neurodataworks/conversant/router"
	"github.com/neurodataworks/conversant/session"
	"github.com/neurodataworks/conversant/validation"
)

// convertAndValidate enters the Converting stage and runs the rest of the
// pipeline.
func (e *Engine) convertAndValidate(ctx context.Context, state *session.State) (map[string]any, error) {
	if err := state.Transition(session.StatusConverting); err != nil {
		return nil, err
	}
	return e.resumeConversion(ctx, state)
}

// resumeConversion runs conversion and validation. The session must
// already be in the Converting status.
func (e *Engine) resumeConversion(ctx context.Context, state *session.State) (map[string]any, error) {
	callCtx, cancel := e.callCtx(ctx)
	converted, err := e.converter.RunConversion(callCtx, state.InputRef(), state.MergedMetadata())
	cancel()
	if err != nil {
		state.Log("error", "convert", err.Error())
		return nil, err
	}
	state.SetOutput(converted.OutputRef, converted.Checksum)
	state.Log("info", "convert", fmt.Sprintf("wrote %s", converted.OutputRef))

	if err := state.Transition(session.StatusValidating); err != nil {
		return nil, err
	}
	return e.validateArtifact(ctx, state)
}

// validateArtifact validates the current artifact and branches on the
// three-way outcome. The session must be in the Validating status.
func (e *Engine) validateArtifact(ctx context.Context, state *session.State) (map[string]any, error) {
	callCtx, cancel := e.callCtx(ctx)
	res, err := e.validator.Validate(callCtx, state.OutputRef())
	cancel()
	if err != nil {
		state.Log("error", "validate", err.Error())
		return nil, err
	}

	e.metrics.ObserveValidation(res.Outcome.String())
	state.Log("info", "validate", fmt.Sprintf("outcome %s with %d issue(s)", res.Outcome, len(res.Issues)))

	// Compare against the previous cycle before the snapshot rotates.
	noProgress := state.Attempt() > 0 &&
		len(res.Issues) > 0 &&
		validation.SameIssues(res.Issues, state.Issues())
	state.SetIssues(res.Issues)

	switch res.Outcome {
	case validation.OutcomePassed:
		if err := state.SetValidationResult(res.Outcome, session.StatusCompleted, session.PhaseIdle); err != nil {
			return nil, err
		}
		reason := session.ReasonPassed
		if state.Attempt() > 0 {
			reason = session.ReasonPassedImproved
		}
		if err := e.finalize(session.StatusCompleted, reason); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":     state.Status().String(),
			"outcome":    res.Outcome.String(),
			"output_ref": state.OutputRef(),
		}, nil

	case validation.OutcomePassedWithIssues:
		if err := state.SetValidationResult(res.Outcome, session.StatusAwaitingUserInput, session.PhaseImprovementDecision); err != nil {
			return nil, err
		}
		prompt := improvementPrompt(res.Issues, noProgress)
		state.AppendHistory("assistant", prompt)
		e.publishStatus()
		return map[string]any{
			"status":      state.Status().String(),
			"outcome":     res.Outcome.String(),
			"prompt":      prompt,
			"no_progress": noProgress,
		}, nil

	default: // validation.OutcomeFailed
		if !state.CanRetry() {
			if err := state.SetValidationResult(res.Outcome, session.StatusFailed, session.PhaseIdle); err != nil {
				return nil, err
			}
			if err := e.finalize(session.StatusFailed, session.ReasonRetryLimitExceeded); err != nil {
				return nil, err
			}
			return map[string]any{
				"status":  state.Status().String(),
				"outcome": res.Outcome.String(),
				"reply": fmt.Sprintf("Validation still fails after %d correction attempts. "+
					"Manual intervention is needed.", session.MaxRetryAttempts),
			}, nil
		}

		if err := state.SetValidationResult(res.Outcome, session.StatusAwaitingRetryApproval, session.PhaseValidationAnalysis); err != nil {
			return nil, err
		}
		prompt := retryPrompt(res.Issues, state.Attempt(), noProgress)
		state.AppendHistory("assistant", prompt)
		e.publishStatus()
		return map[string]any{
			"status":      state.Status().String(),
			"outcome":     res.Outcome.String(),
			"prompt":      prompt,
			"no_progress": noProgress,
		}, nil
	}
}

// runCorrectionCycle runs one bounded correction attempt: classify issues,
// apply automatic fixes, suspend for user input when required, then
// reconvert and revalidate.
func (e *Engine) runCorrectionCycle(ctx context.Context, state *session.State) (map[string]any, error) {
	if !state.CanRetry() {
		if err := e.finalize(session.StatusFailed, session.ReasonRetryLimitExceeded); err != nil {
			return nil, err
		}
		return nil, router.Errorf(router.CodeRetryLimitExceeded,
			"correction limit of %d attempts reached", session.MaxRetryAttempts)
	}

	attempt := state.IncrementAttempt()
	e.metrics.ObserveCorrectionCycle()
	state.Log("info", "correct", fmt.Sprintf("starting correction attempt %d of %d", attempt, session.MaxRetryAttempts))

	issues := state.Issues()
	merged := state.MergedMetadata()
	plan := e.classifier.BuildPlan(issues, merged, attempt)
	explanations := e.explainIssues(ctx, state)

	// Fold automatic fixes into the session metadata so later cycles and
	// reconversions see them.
	fixes := plan.AutoFixes(merged)
	for _, fix := range fixes {
		if fix.Action == "set" {
			state.SetAutoField(fix.Field, fix.Value)
		}
	}

	// Fixes that rewrite existing data need explicit consent before anything
	// is applied.
	if requests := plan.ApprovalRequests(); len(requests) > 0 {
		if err := state.Transition(session.StatusAwaitingUserInput); err != nil {
			return nil, err
		}
		state.SetPhase(session.PhaseApprovalDecision)
		e.pendingPlan = plan
		e.pendingAutoFixes = fixes
		prompt := strings.Join(requests, "\n") +
			"\nReply \"approve\" to apply, or \"skip\" to leave the existing values untouched."
		state.AppendHistory("assistant", prompt)
		e.publishStatus()
		return map[string]any{
			"status":       state.Status().String(),
			"prompt":       prompt,
			"plan":         plan.Summary(),
			"explanations": explanations,
		}, nil
	}

	return e.continueCorrection(ctx, state, plan, fixes, explanations)
}

// continueCorrection finishes a correction cycle once consent is settled:
// suspend on open questions, otherwise apply the collected fixes (or
// reconvert when there is nothing mechanical) and revalidate.
func (e *Engine) continueCorrection(ctx context.Context, state *session.State, plan *correction.Plan, fixes []converter.Fix, explanations []string) (map[string]any, error) {
	if questions := plan.Questions(); len(questions) > 0 {
		if err := state.Transition(session.StatusAwaitingUserInput); err != nil {
			return nil, err
		}
		state.SetPhase(session.PhaseValidationAnalysis)
		prompt := strings.Join(questions, "\n")
		state.AppendHistory("assistant", prompt)
		e.publishStatus()
		return map[string]any{
			"status":       state.Status().String(),
			"prompt":       prompt,
			"plan":         plan.Summary(),
			"explanations": explanations,
		}, nil
	}

	if err := state.Transition(session.StatusConverting); err != nil {
		return nil, err
	}

	if len(fixes) > 0 {
		callCtx, cancel := e.callCtx(ctx)
		correctedRef, err := e.converter.ApplyCorrections(callCtx, state.OutputRef(), fixes)
		cancel()
		if err != nil {
			state.Log("error", "correct", err.Error())
			return nil, err
		}
		state.SetOutput(correctedRef, "")
		state.Log("info", "correct", fmt.Sprintf("applied %d fix(es), wrote %s", len(fixes), correctedRef))

		if err := state.Transition(session.StatusValidating); err != nil {
			return nil, err
		}
		return e.validateArtifact(ctx, state)
	}

	// Nothing mechanical to apply: the user supplied new metadata, so run
	// a full reconversion.
	return e.resumeConversion(ctx, state)
}

// explainIssues asks the language service for user-facing explanations of
// the current issues. Best effort: failures fall back to the rule-based
// plan silently.
func (e *Engine) explainIssues(ctx context.Context, state *session.State) []string {
	if !e.language.Available() {
		e.metrics.ObserveLanguageCall("classify_issues", "degraded")
		return nil
	}

	callCtx, cancel := e.callCtx(ctx)
	assessments, err := e.language.ClassifyIssues(callCtx, state.Issues())
	cancel()
	if err != nil {
		result := "error"
		if errors.Is(err, llm.ErrBusy) {
			result = "busy"
		}
		e.metrics.ObserveLanguageCall("classify_issues", result)
		e.logger.Warn("Language issue classification failed, using rule-based plan", "error", err)
		return nil
	}

	e.metrics.ObserveLanguageCall("classify_issues", "ok")
	var explanations []string
	for _, a := range assessments {
		if a.Explanation != "" {
			explanations = append(explanations, a.Explanation)
		}
	}
	return explanations
}

func improvementPrompt(issues []validation.Issue, noProgress bool) string {
	var sb strings.Builder
	if noProgress {
		sb.WriteString("The last correction attempt made no progress — the same issues remain.\n")
	}
	sb.WriteString("The conversion succeeded with non-blocking issues:\n")
	sb.WriteString(validation.FormatSummary(issues))
	sb.WriteString("\nReply \"accept\" to keep the artifact as-is, or \"improve\" to attempt corrections.")
	return sb.String()
}

func retryPrompt(issues []validation.Issue, attempt int, noProgress bool) string {
	var sb strings.Builder
	if noProgress {
		sb.WriteString("The last correction attempt made no progress — the same issues remain.\n")
	}
	sb.WriteString("Validation failed:\n")
	sb.WriteString(validation.FormatSummary(issues))
	fmt.Fprintf(&sb, "\nReply \"approve\" to attempt a correction (%d of %d used), \"decline\" to stop, or \"cancel\" to abandon.",
		attempt, session.MaxRetryAttempts)
	return sb.String()
}
