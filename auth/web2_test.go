package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/auth"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

func TestWeb2_RedirectsToVendor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setProject(t)
	e.backend.redirect = ports.RedirectResponse{
		URL:       "https://accounts.google.com/o/oauth2/auth?state=s1",
		Verifiers: map[string]string{"state": "s1"},
	}

	d := e.delegate()
	require.NoError(t, d.CaptureData(ctx, map[string]string{auth.ParamProvider: "google"}))

	assert.Equal(t, []string{"https://accounts.google.com/o/oauth2/auth?state=s1"}, e.nav.urls)
	require.Len(t, e.backend.redirects, 1)
	assert.Equal(t, ports.RedirectRequest{
		Provider:          "google",
		RedirectURI:       "https://app.example/auth/callback",
		ProjectIdentifier: "proj-1",
	}, e.backend.redirects[0])

	var verifiers map[string]string
	require.NoError(t, passport.GetJSON(ctx, e.storage, passport.KeyVerifiers, &verifiers))
	assert.Equal(t, map[string]string{"state": "s1"}, verifiers)
	assert.Empty(t, e.rec.messages())
	assert.False(t, d.Responded())
}

func TestWeb2_MissingProjectIdentifier(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.delegate().CaptureData(context.Background(), map[string]string{auth.ParamProvider: "github"}))

	msgs := e.rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RespondError, msgs[0].RespondType)
	assert.Equal(t, "configuration_error", msgs[0].Data[auth.ParamErrorCode])
	assert.Empty(t, e.nav.urls)
}

func TestWeb2_CodeWithMatchingVerifiers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setProject(t)
	require.NoError(t, passport.SetJSON(ctx, e.storage, passport.KeyVerifiers, map[string]string{"state": "s1"}, 0))

	d := e.delegate()
	require.NoError(t, d.Init(ctx, map[string]string{auth.ParamProvider: "google"}))
	require.NoError(t, d.Resolver().AuthenticateAndRespond(ctx, map[string]string{auth.ParamCode: "abc", auth.ParamState: "s1"}))

	regs := e.backend.registered()
	require.Len(t, regs, 1)
	assert.Equal(t, "google", regs[0].Provider)
	assert.Equal(t, "proj-1", regs[0].ProjectIdentifier)
	require.Len(t, regs[0].Sessions, 1)
	assert.Equal(t, "abc", regs[0].Sessions[0].Code)
	assert.Equal(t, core.ConnectorOAuth, regs[0].Sessions[0].ConnectorType)

	msgs := e.rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RespondSuccess, msgs[0].RespondType)
	assert.Equal(t, "refresh-token", msgs[0].Data["refresh"])
	assert.Equal(t, "access-token", msgs[0].Data["access"])

	_, err := e.storage.Get(ctx, passport.KeyVerifiers)
	assert.ErrorIs(t, err, passport.ErrKeyNotFound)
}

func TestWeb2_ErrorFromVendor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	d := e.delegate()
	require.NoError(t, d.Init(ctx, map[string]string{auth.ParamProvider: "github"}))

	require.NoError(t, d.Resolver().CaptureURI(ctx, map[string]string{auth.ParamError: "access_denied"}))

	assert.Empty(t, e.backend.registered())
	msgs := e.rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RespondError, msgs[0].RespondType)
	assert.Equal(t, "access_denied", msgs[0].Data[auth.ParamError])
	assert.Equal(t, auth.DefaultErrorCode, msgs[0].Data[auth.ParamErrorCode])
}

func TestWeb2_AuthenticityFailed(t *testing.T) {
	tests := []struct {
		name      string
		verifiers map[string]string
		data      map[string]string
	}{
		{"no verifier record", nil, map[string]string{auth.ParamCode: "abc", auth.ParamState: "s1"}},
		{"state mismatch", map[string]string{"state": "s1"}, map[string]string{auth.ParamCode: "abc", auth.ParamState: "forged"}},
		{"state missing", map[string]string{"state": "s1"}, map[string]string{auth.ParamCode: "abc"}},
		{"no code", map[string]string{"state": "s1"}, map[string]string{auth.ParamState: "s1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			e := newEnv(t)
			if tt.verifiers != nil {
				require.NoError(t, passport.SetJSON(ctx, e.storage, passport.KeyVerifiers, tt.verifiers, 0))
			}
			d := e.delegate()
			require.NoError(t, d.Init(ctx, map[string]string{auth.ParamProvider: "google"}))

			require.NoError(t, d.Resolver().AuthenticateAndRespond(ctx, tt.data))

			assert.Empty(t, e.backend.registered())
			msgs := e.rec.messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, core.ErrAuthenticityFailed.Error(), msgs[0].Data[auth.ParamError])
			assert.Equal(t, "authenticity_failed", msgs[0].Data[auth.ParamErrorCode])
		})
	}
}

func TestWeb2_RegistrationFailure(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.setProject(t)
	e.backend.registerErr = errors.New("backend down")
	require.NoError(t, passport.SetJSON(ctx, e.storage, passport.KeyVerifiers, map[string]string{"state": "s1"}, 0))

	d := e.delegate()
	require.NoError(t, d.CaptureData(ctx, map[string]string{auth.ParamProvider: "discord", auth.ParamCode: "abc", auth.ParamState: "s1"}))

	msgs := e.rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "registration_failed", msgs[0].Data[auth.ParamErrorCode])
	assert.Contains(t, msgs[0].Data[auth.ParamError], "backend down")
}
