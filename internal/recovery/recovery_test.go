package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ory/fosite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// recorder captures the order of calls across a session and a trigger
type recorder struct {
	calls []string
}

type fakeSession struct {
	rec           *recorder
	name          string
	authenticated bool
	user          string
	clears        int
	err           error
}

func (s *fakeSession) Clear(context.Context) error {
	s.clears++
	s.rec.calls = append(s.rec.calls, s.name+":clear")
	if s.err != nil {
		return s.err
	}
	s.authenticated = false
	s.user = ""
	return nil
}

type fakeTrigger struct {
	rec      *recorder
	name     string
	triggers int
	err      error
}

func (t *fakeTrigger) Trigger(context.Context) error {
	t.triggers++
	t.rec.calls = append(t.rec.calls, t.name+":trigger")
	return t.err
}

func newFakes(name string) (*recorder, *fakeSession, *fakeTrigger) {
	rec := &recorder{}
	return rec,
		&fakeSession{rec: rec, name: name, authenticated: true, user: "alice"},
		&fakeTrigger{rec: rec, name: name}
}

func TestHandle_InvalidRequestRecovers(t *testing.T) {
	rec, sess, trigger := newFakes("s1")

	outcome, err := New().Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "", nil), sess, trigger)

	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, 1, sess.clears)
	assert.Equal(t, 1, trigger.triggers)
	assert.Equal(t, []string{"s1:clear", "s1:trigger"}, rec.calls)
	assert.False(t, sess.authenticated)
	assert.Empty(t, sess.user)
}

func TestHandle_OtherCodesPropagate(t *testing.T) {
	codes := []string{
		"",
		CodeInvalidGrant,
		CodeInvalidToken,
		CodeAccessDenied,
		CodeServerError,
		"INVALID_REQUEST",
		"invalid_request ",
		"some_future_code",
	}

	for _, code := range codes {
		t.Run(fmt.Sprintf("code=%q", code), func(t *testing.T) {
			rec, sess, trigger := newFakes("s")

			outcome, err := New().Handle(context.Background(), NewAuthorizationError(code, "x", nil), sess, trigger)

			require.NoError(t, err)
			assert.Equal(t, Unhandled, outcome)
			assert.Zero(t, sess.clears)
			assert.Zero(t, trigger.triggers)
			assert.Empty(t, rec.calls)
			assert.True(t, sess.authenticated)
			assert.Equal(t, "alice", sess.user)
		})
	}
}

func TestHandle_NilErrorPropagates(t *testing.T) {
	rec, sess, trigger := newFakes("s")

	outcome, err := New().Handle(context.Background(), nil, sess, trigger)

	require.NoError(t, err)
	assert.Equal(t, Unhandled, outcome)
	assert.Empty(t, rec.calls)
}

func TestHandle_IndependentSessions(t *testing.T) {
	m := New()
	rec1, sess1, trigger1 := newFakes("s1")
	rec2, sess2, trigger2 := newFakes("s2")

	outcome1, err := m.Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "first", nil), sess1, trigger1)
	require.NoError(t, err)
	outcome2, err := m.Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "second", nil), sess2, trigger2)
	require.NoError(t, err)

	assert.Equal(t, Recovered, outcome1)
	assert.Equal(t, Recovered, outcome2)
	assert.Equal(t, []string{"s1:clear", "s1:trigger"}, rec1.calls)
	assert.Equal(t, []string{"s2:clear", "s2:trigger"}, rec2.calls)
	assert.Equal(t, 1, sess1.clears)
	assert.Equal(t, 1, sess2.clears)
}

func TestHandle_TriggerFailurePropagatesUnwrapped(t *testing.T) {
	rec, sess, trigger := newFakes("s")
	networkErr := &netError{msg: "dial tcp: connection refused"}
	trigger.err = networkErr
	original := NewAuthorizationError(CodeInvalidRequest, "", nil)

	outcome, err := New().Handle(context.Background(), original, sess, trigger)

	assert.Equal(t, Unhandled, outcome)
	assert.Same(t, networkErr, err)
	assert.NotErrorIs(t, err, original)
	assert.Equal(t, []string{"s:clear", "s:trigger"}, rec.calls)
	assert.False(t, sess.authenticated)
}

func TestHandle_ClearFailureSkipsTrigger(t *testing.T) {
	rec, sess, trigger := newFakes("s")
	storeErr := errors.New("store unavailable")
	sess.err = storeErr

	outcome, err := New().Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "", nil), sess, trigger)

	assert.Equal(t, Unhandled, outcome)
	assert.Same(t, storeErr, err)
	assert.Zero(t, trigger.triggers)
	assert.Equal(t, []string{"s:clear"}, rec.calls)
}

func TestHandle_CustomPolicy(t *testing.T) {
	m := &Middleware{Policy: Policy{CodeInvalidToken: Reauthenticate}}
	_, sess, trigger := newFakes("s")

	outcome, err := m.Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "", nil), sess, trigger)
	require.NoError(t, err)
	assert.Equal(t, Unhandled, outcome)

	outcome, err = m.Handle(context.Background(), NewAuthorizationError(CodeInvalidToken, "", nil), sess, trigger)
	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
}

func TestHandle_NilPolicyDeniesRecovery(t *testing.T) {
	m := &Middleware{}
	rec, sess, trigger := newFakes("s")

	outcome, err := m.Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "", nil), sess, trigger)

	require.NoError(t, err)
	assert.Equal(t, Unhandled, outcome)
	assert.Empty(t, rec.calls)
}

func TestFuncAdapters(t *testing.T) {
	var order []string
	sess := SessionFunc(func(context.Context) error {
		order = append(order, "clear")
		return nil
	})
	trigger := TriggerFunc(func(context.Context) error {
		order = append(order, "trigger")
		return nil
	})

	outcome, err := New().Handle(context.Background(), NewAuthorizationError(CodeInvalidRequest, "", nil), sess, trigger)

	require.NoError(t, err)
	assert.Equal(t, Recovered, outcome)
	assert.Equal(t, []string{"clear", "trigger"}, order)
}

func TestDefaultPolicyIsNarrow(t *testing.T) {
	assert.Len(t, DefaultPolicy, 1)
	assert.Equal(t, Reauthenticate, DefaultPolicy.Classify(CodeInvalidRequest))
	assert.Equal(t, Propagate, DefaultPolicy.Classify(CodeInvalidGrant))
	assert.Equal(t, Propagate, Policy(nil).Classify(CodeInvalidRequest))
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantOK      bool
		wantCode    string
		wantMessage string
	}{
		{
			name:     "authorization error",
			err:      NewAuthorizationError(CodeInvalidRequest, "missing parameter", nil),
			wantOK:   true,
			wantCode: CodeInvalidRequest, wantMessage: "missing parameter",
		},
		{
			name:     "wrapped authorization error",
			err:      fmt.Errorf("fetching profile: %w", NewAuthorizationError(CodeInvalidGrant, "", nil)),
			wantOK:   true,
			wantCode: CodeInvalidGrant,
		},
		{
			name: "oauth2 retrieve error",
			err: fmt.Errorf("refreshing: %w", &oauth2.RetrieveError{
				Body:             []byte(`{"error":"invalid_request","error_description":"bad refresh"}`),
				ErrorCode:        "invalid_request",
				ErrorDescription: "bad refresh",
			}),
			wantOK:   true,
			wantCode: CodeInvalidRequest, wantMessage: "bad refresh",
		},
		{
			name:     "fosite error",
			err:      fosite.ErrInvalidRequest.WithDescription("nope"),
			wantOK:   true,
			wantCode: CodeInvalidRequest, wantMessage: "nope",
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			wantOK: false,
		},
		{
			name:   "nil",
			err:    nil,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authErr, ok := FromError(tt.err)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				assert.Nil(t, authErr)
				return
			}
			require.NotNil(t, authErr)
			assert.Equal(t, tt.wantCode, authErr.Code)
			assert.Equal(t, tt.wantMessage, authErr.Message)
		})
	}
}

func TestFromError_RetrieveErrorKeepsRawBody(t *testing.T) {
	body := `{"error":"invalid_request"}`
	authErr, ok := FromError(&oauth2.RetrieveError{Body: []byte(body), ErrorCode: "invalid_request"})

	require.True(t, ok)
	assert.Equal(t, body, authErr.Raw)
}

func TestAuthorizationErrorString(t *testing.T) {
	assert.Equal(t, "invalid_request: missing state", NewAuthorizationError(CodeInvalidRequest, "missing state", nil).Error())
	assert.Equal(t, "invalid_grant", NewAuthorizationError(CodeInvalidGrant, "", nil).Error())
	assert.Equal(t, "only message", NewAuthorizationError("", "only message", nil).Error())
	assert.Equal(t, "authorization error", NewAuthorizationError("", "", nil).Error())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "recovered", Recovered.String())
	assert.Equal(t, "unhandled", Unhandled.String())
	assert.Equal(t, "reauthenticate", Reauthenticate.String())
	assert.Equal(t, "propagate", Propagate.String())
}

type netError struct{ msg string }

func (e *netError) Error() string { return e.msg }
