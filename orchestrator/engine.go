// Package orchestrator drives the conversion pipeline: it owns the single
// active session, registers every pipeline handler on the message router,
// and sequences detect → collect metadata → convert → validate → correct
// (bounded retries) → finalize.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neurodataworks/conversant/converter"
	"github.com/neurodataworks/conversant/correction"
	"github.com/neurodataworks/conversant/events"
	"github.com/neurodataworks/conversant/llm"
	"github.com/neurodataworks/conversant/metadata"
	"github.com/neurodataworks/conversant/metrics"
	"github.com/neurodataworks/conversant/router"
	"github.com/neurodataworks/conversant/session"
	"github.com/neurodataworks/conversant/validation"
)

// DefaultCallTimeout bounds every collaborator call.
const DefaultCallTimeout = 180 * time.Second

// Target is the router target for engine messages.
const Target = "orchestrator"

// Router actions accepted by the engine.
const (
	ActionStartConversion     = "start_conversion"
	ActionUserResponse        = "user_response"
	ActionImprovementDecision = "improvement_decision"
	ActionRetryDecision       = "retry_decision"
	ActionStatus              = "status"
	ActionReset               = "reset"
)

// Engine is the pipeline driver. All mutation flows through the router;
// the facade methods below are the only externally invocable entry points.
type Engine struct {
	state      *session.State
	router     *router.Router
	converter  converter.Converter
	validator  validation.ArtifactValidator
	meta       *metadata.Engine
	classifier *correction.Classifier
	language   *llm.Service
	metrics    *metrics.Set
	events     *events.Publisher
	logger     *slog.Logger

	callTimeout time.Duration

	// Correction-cycle continuation held while consent-gated fixes await a
	// user decision. Cleared on consumption, reset, and finalization.
	pendingPlan      *correction.Plan
	pendingAutoFixes []converter.Fix
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLanguage sets the language understanding service. Without it the
// engine runs in reduced-intelligence mode on deterministic rules.
func WithLanguage(svc *llm.Service) Option {
	return func(e *Engine) {
		e.language = svc
	}
}

// WithMetadataEngine sets the metadata merge engine.
func WithMetadataEngine(m *metadata.Engine) Option {
	return func(e *Engine) {
		e.meta = m
	}
}

// WithClassifier sets the correction classifier.
func WithClassifier(c *correction.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithMetrics sets the Prometheus collector set.
func WithMetrics(m *metrics.Set) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithEvents sets the NATS event publisher.
func WithEvents(p *events.Publisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

// WithCallTimeout bounds collaborator calls.
func WithCallTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.callTimeout = d
	}
}

// New creates the engine and registers its handlers on a fresh router.
func New(conv converter.Converter, val validation.ArtifactValidator, opts ...Option) (*Engine, error) {
	if conv == nil {
		return nil, fmt.Errorf("converter is required")
	}
	if val == nil {
		return nil, fmt.Errorf("validator is required")
	}

	e := &Engine{
		state:       session.New(),
		converter:   conv,
		validator:   val,
		logger:      slog.Default(),
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.meta == nil {
		e.meta = metadata.NewEngine(nil, nil, e.logger)
	}
	if e.classifier == nil {
		e.classifier = correction.NewClassifier(e.logger)
	}

	e.router = router.New(e.logger)
	if err := e.registerHandlers(); err != nil {
		return nil, err
	}

	if !e.language.Available() {
		e.logger.Info("No language endpoint configured, running in reduced-intelligence mode")
	}

	return e, nil
}

func (e *Engine) registerHandlers() error {
	handlers := map[string]router.Handler{
		ActionStartConversion:     e.handleStartConversion,
		ActionUserResponse:        e.handleUserResponse,
		ActionImprovementDecision: e.handleImprovementDecision,
		ActionRetryDecision:       e.handleRetryDecision,
		ActionStatus:              e.handleStatus,
		ActionReset:               e.handleReset,
	}
	for action, h := range handlers {
		if err := e.router.Register(Target, action, h); err != nil {
			return fmt.Errorf("register %s/%s: %w", Target, action, err)
		}
	}
	return nil
}

// Router exposes the message router for components that submit events
// directly (intake, transport layers).
func (e *Engine) Router() *router.Router {
	return e.router
}

// State exposes the session handle for read-mostly consumers.
func (e *Engine) State() *session.State {
	return e.state
}

// SubmitFile routes a file submission into the engine.
func (e *Engine) SubmitFile(ctx context.Context, inputRef string) router.Response {
	return e.route(ctx, ActionStartConversion, map[string]any{"input_ref": inputRef})
}

// SubmitUserMessage routes a user utterance into the engine.
func (e *Engine) SubmitUserMessage(ctx context.Context, text string) router.Response {
	return e.route(ctx, ActionUserResponse, map[string]any{"text": text})
}

// SubmitDecision routes an explicit decision into the engine. The session
// status and phase select which decision point the kind applies to.
func (e *Engine) SubmitDecision(ctx context.Context, kind string) router.Response {
	if e.state.Status() == session.StatusAwaitingRetryApproval {
		return e.route(ctx, ActionRetryDecision, map[string]any{"decision": kind})
	}
	if e.state.Phase() == session.PhaseApprovalDecision {
		// Fix consent rides the conversational channel.
		return e.route(ctx, ActionUserResponse, map[string]any{"text": kind})
	}
	return e.route(ctx, ActionImprovementDecision, map[string]any{"decision": kind})
}

// CurrentStatus returns a consistent session snapshot.
func (e *Engine) CurrentStatus() session.Snapshot {
	return e.state.Snapshot()
}

// DownloadArtifact returns the converted artifact reference once the
// session has completed.
func (e *Engine) DownloadArtifact() (string, error) {
	snap := e.state.Snapshot()
	if snap.Status != session.StatusCompleted || snap.OutputRef == "" {
		return "", fmt.Errorf("no completed artifact available (status %s)", snap.Status)
	}
	return snap.OutputRef, nil
}

// Reset clears the session for a fresh conversion.
func (e *Engine) Reset(ctx context.Context) router.Response {
	return e.route(ctx, ActionReset, nil)
}

func (e *Engine) route(ctx context.Context, action string, payload map[string]any) router.Response {
	return e.router.Route(ctx, router.Message{
		Target:  Target,
		Action:  action,
		Context: payload,
	}, e.state)
}

// callCtx bounds a collaborator call with the configured timeout.
func (e *Engine) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.callTimeout)
}

// publishStatus mirrors the current snapshot to external observers.
func (e *Engine) publishStatus() {
	e.events.PublishStatus(e.state.Snapshot())
}

// clearPendingPlan drops any correction-cycle continuation.
func (e *Engine) clearPendingPlan() {
	e.pendingPlan = nil
	e.pendingAutoFixes = nil
}

// finalize freezes the session and records the terminal observation.
func (e *Engine) finalize(status session.Status, reason session.Reason) error {
	if err := e.state.Finalize(status, reason); err != nil {
		return err
	}
	e.clearPendingPlan()
	e.metrics.ObserveFinal(status == session.StatusFailed)
	e.events.PublishFinal(e.state.Snapshot())
	e.logger.Info("Session finalized", "status", status, "reason", reason)
	return nil
}
