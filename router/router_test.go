package router

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurodataworks/conversant/session"
)

func TestRouteDispatchesToHandler(t *testing.T) {
	r := New(nil)
	state := session.New()

	require.NoError(t, r.Register("engine", "ping", func(_ context.Context, msg Message, _ *session.State) (map[string]any, error) {
		return map[string]any{"echo": msg.String("payload")}, nil
	}))

	resp := r.Route(context.Background(), Message{
		Target:  "engine",
		Action:  "ping",
		Context: map[string]any{"payload": "hello"},
	}, state)

	require.True(t, resp.Success)
	assert.Equal(t, "hello", resp.Result["echo"])
	assert.NotEmpty(t, resp.CorrelationID, "router assigns a correlation ID")
}

func TestRouteNoHandler(t *testing.T) {
	r := New(nil)
	resp := r.Route(context.Background(), Message{Target: "engine", Action: "missing"}, session.New())

	require.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNoHandler, resp.Error.Code)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(nil)
	h := func(_ context.Context, _ Message, _ *session.State) (map[string]any, error) { return nil, nil }

	require.NoError(t, r.Register("engine", "ping", h))
	assert.Error(t, r.Register("engine", "ping", h))
}

func TestRoutePanicBecomesInternalError(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register("engine", "boom", func(_ context.Context, _ Message, _ *session.State) (map[string]any, error) {
		panic("handler exploded")
	}))

	resp := r.Route(context.Background(), Message{Target: "engine", Action: "boom"}, session.New())
	require.False(t, resp.Success)
	assert.Equal(t, CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "handler exploded")
}

func TestRouteErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"coded error passes through", Errorf(CodeRetryLimitExceeded, "limit"), CodeRetryLimitExceeded},
		{"transition error", &session.TransitionError{From: session.StatusIdle, To: session.StatusConverting}, CodeInvalidStateTransition},
		{"deadline exceeded", context.DeadlineExceeded, CodeCollaboratorTimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), CodeCollaboratorTimeout},
		{"generic error", errors.New("remote broke"), CodeCollaboratorFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(nil)
			require.NoError(t, r.Register("engine", "fail", func(_ context.Context, _ Message, _ *session.State) (map[string]any, error) {
				return nil, tt.err
			}))

			resp := r.Route(context.Background(), Message{Target: "engine", Action: "fail"}, session.New())
			require.False(t, resp.Success)
			assert.Equal(t, tt.want, resp.Error.Code)
		})
	}
}

func TestRouteErrorCarriesSessionContext(t *testing.T) {
	r := New(nil)
	state := session.New()
	require.NoError(t, state.Transition(session.StatusUploading))
	state.SetInput("/data/rec.bin")
	state.IncrementAttempt()

	require.NoError(t, r.Register("engine", "fail", func(_ context.Context, _ Message, _ *session.State) (map[string]any, error) {
		return nil, errors.New("remote broke")
	}))

	resp := r.Route(context.Background(), Message{Target: "engine", Action: "fail"}, state)
	require.False(t, resp.Success)
	assert.Equal(t, session.StatusUploading.String(), resp.Error.Stage)
	assert.Equal(t, "/data/rec.bin", resp.Error.InputRef)
	assert.Equal(t, 1, resp.Error.Attempt)
}
