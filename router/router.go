// Package router is the mediator between pipeline components. Handlers are
// registered under (target, action) pairs; every external event is routed
// through here with the shared session state injected, and handler failures
// are converted into structured error responses rather than swallowed.
// Components never call each other directly.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/neurodataworks/conversant/session"
)

// Code classifies a routed error.
type Code string

const (
	// CodeNoHandler means no handler is registered for (target, action).
	CodeNoHandler Code = "no_handler"
	// CodeValidationFailure means the converted artifact failed validation.
	CodeValidationFailure Code = "validation_failure"
	// CodeCollaboratorTimeout means an external call exceeded its deadline.
	CodeCollaboratorTimeout Code = "collaborator_timeout"
	// CodeCollaboratorFailure means an external call failed.
	CodeCollaboratorFailure Code = "collaborator_failure"
	// CodeRetryLimitExceeded means the correction budget is exhausted.
	CodeRetryLimitExceeded Code = "retry_limit_exceeded"
	// CodeConcurrentBusy means a concurrent external call is in flight.
	CodeConcurrentBusy Code = "concurrent_busy"
	// CodeInvalidStateTransition means a transition was rejected.
	CodeInvalidStateTransition Code = "invalid_state_transition"
	// CodeInvalidInput means the message payload was malformed.
	CodeInvalidInput Code = "invalid_input"
	// CodeInternal means a handler panicked or failed unexpectedly.
	CodeInternal Code = "internal"
)

// Error is a structured routed error with enough context to reproduce:
// the stage the pipeline was in, the input being processed, and the
// correction attempt count.
type Error struct {
	Code     Code   `json:"code"`
	Message  string `json:"message"`
	Stage    string `json:"stage,omitempty"`
	InputRef string `json:"input_ref,omitempty"`
	Attempt  int    `json:"attempt"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a coded Error.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Message is a routed event: the target component, the action to perform,
// and an arbitrary payload map.
type Message struct {
	Target        string         `json:"target"`
	Action        string         `json:"action"`
	Context       map[string]any `json:"context,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// String returns the context value under key, or "" when absent.
func (m Message) String(key string) string {
	if v, ok := m.Context[key].(string); ok {
		return v
	}
	return ""
}

// Response is the result of routing a message: exactly one of Result or
// Error is set.
type Response struct {
	Success       bool           `json:"success"`
	Result        map[string]any `json:"result,omitempty"`
	Error         *Error         `json:"error,omitempty"`
	CorrelationID string         `json:"correlation_id"`
}

// Handler processes a routed message with the injected session state.
type Handler func(ctx context.Context, msg Message, state *session.State) (map[string]any, error)

type handlerKey struct {
	target string
	action string
}

// Router dispatches messages to registered handlers.
type Router struct {
	mu       sync.RWMutex
	handlers map[handlerKey]Handler
	logger   *slog.Logger
}

// New creates an empty router.
func New(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		handlers: make(map[handlerKey]Handler),
		logger:   logger,
	}
}

// Register binds a handler to a (target, action) pair. Duplicate
// registration is an error so two components cannot silently contend for
// the same messages.
func (r *Router) Register(target, action string, h Handler) error {
	if target == "" || action == "" {
		return fmt.Errorf("register: target and action are required")
	}
	if h == nil {
		return fmt.Errorf("register %s/%s: handler is nil", target, action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := handlerKey{target: target, action: action}
	if _, exists := r.handlers[key]; exists {
		return fmt.Errorf("register %s/%s: handler already registered", target, action)
	}
	r.handlers[key] = h
	return nil
}

// Route dispatches a message to its handler, injecting the shared session
// state. A missing handler yields an explicit NoHandler error; panics and
// errors raised inside the handler are converted into error responses
// carrying the pipeline stage, input reference, and attempt count.
func (r *Router) Route(ctx context.Context, msg Message, state *session.State) Response {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}

	r.mu.RLock()
	h, ok := r.handlers[handlerKey{target: msg.Target, action: msg.Action}]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("No handler registered",
			"target", msg.Target,
			"action", msg.Action,
			"correlation_id", msg.CorrelationID)
		return Response{
			CorrelationID: msg.CorrelationID,
			Error: r.annotate(state, Errorf(CodeNoHandler,
				"no handler registered for %s/%s", msg.Target, msg.Action)),
		}
	}

	result, err := r.invoke(ctx, h, msg, state)
	if err != nil {
		routed := r.annotate(state, classify(err))
		r.logger.Error("Handler failed",
			"target", msg.Target,
			"action", msg.Action,
			"correlation_id", msg.CorrelationID,
			"code", routed.Code,
			"stage", routed.Stage,
			"attempt", routed.Attempt,
			"error", err)
		return Response{CorrelationID: msg.CorrelationID, Error: routed}
	}

	return Response{
		Success:       true,
		Result:        result,
		CorrelationID: msg.CorrelationID,
	}
}

// invoke runs the handler with panic recovery. A panicking handler must
// surface as a structured error, never crash the engine or get swallowed.
func (r *Router) invoke(ctx context.Context, h Handler, msg Message, state *session.State) (result map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Errorf(CodeInternal, "handler panic in %s/%s: %v", msg.Target, msg.Action, rec)
		}
	}()
	return h(ctx, msg, state)
}

// classify maps handler errors onto the routed error taxonomy.
func classify(err error) *Error {
	var routed *Error
	if errors.As(err, &routed) {
		return routed
	}

	var transition *session.TransitionError
	if errors.As(err, &transition) {
		return Errorf(CodeInvalidStateTransition, "%s", transition.Error())
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Errorf(CodeCollaboratorTimeout, "external call timed out: %v", err)
	}

	return Errorf(CodeCollaboratorFailure, "%s", err.Error())
}

// annotate fills the reproduction context from the session state.
func (r *Router) annotate(state *session.State, e *Error) *Error {
	if state == nil {
		return e
	}
	snap := state.Snapshot()
	if e.Stage == "" {
		e.Stage = snap.Status.String()
	}
	if e.InputRef == "" {
		e.InputRef = snap.InputRef
	}
	e.Attempt = snap.Attempt
	return e
}
