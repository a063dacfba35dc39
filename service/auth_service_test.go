package service_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
)

type fakeVendor struct{}

func (fakeVendor) Name() string { return "github" }

func (fakeVendor) AuthCodeURL(state, codeVerifier, redirectURI string) string {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}, "verifier": {codeVerifier}}
	return "https://github.example/authorize?" + q.Encode()
}

func (fakeVendor) Exchange(_ context.Context, code, codeVerifier, _ string) (ports.ExternalIdentity, error) {
	if code != "good" || codeVerifier == "" {
		return ports.ExternalIdentity{}, core.ErrAuthenticityFailed
	}
	return ports.ExternalIdentity{Subject: "42", Name: "octocat"}, nil
}

func newService(t *testing.T, opts ...service.Option) *service.AuthService {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	base := []service.Option{
		service.WithProjects(map[string]string{"key-1": "proj-1"}),
		service.WithVendors(fakeVendor{}),
	}
	return service.NewAuthService(
		tokenizer.NewJWTTokenizer(key),
		store.NewMemoryStore(),
		events.NewWatermillPublisher(ps),
		append(base, opts...)...,
	)
}

func walletSession(addr string) ports.RegistrationSession {
	return ports.RegistrationSession{
		CurrentSession: core.CurrentSession{
			UID:           addr,
			Provider:      "metamask",
			ConnectorType: core.ConnectorInjected,
			Session:       json.RawMessage(`{"path":"ethereum"}`),
		},
		ChainID: "1",
	}
}

func signChallenge(t *testing.T, s *service.AuthService) (ports.RegistrationSession, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()

	ch, err := s.CreateChallenge(strings.ToLower(addr))
	require.NoError(t, err)
	sig, err := crypto.Sign(accounts.TextHash([]byte(ch.Message)), key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27

	rs := walletSession(strings.ToLower(addr))
	rs.Challenge = ch.Token
	rs.Signature = hexutil.Encode(sig)
	return rs, addr
}

func TestAuthService_Projects(t *testing.T) {
	s := newService(t)

	assert.NoError(t, s.VerifyAPIKey("key-1"))
	assert.ErrorIs(t, s.VerifyAPIKey("nope"), core.ErrInvalidAPIKey)
	assert.ErrorIs(t, s.VerifyAPIKey(""), core.ErrInvalidAPIKey)

	ident, err := s.Project("key-1")
	require.NoError(t, err)
	assert.Equal(t, "proj-1", ident)

	assert.NoError(t, s.VerifyProject("proj-1"))
	assert.ErrorIs(t, s.VerifyProject("proj-2"), core.ErrProjectNotFound)
}

func TestAuthService_RegisterSignedWallet(t *testing.T) {
	ctx := context.Background()
	s := newService(t, service.WithRequireSignature())
	rs, addr := signChallenge(t, s)

	tokens, err := s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "metamask", Sessions: []ports.RegistrationSession{rs}})
	require.NoError(t, err)
	assert.NotEmpty(t, tokens.Access)
	assert.NotEmpty(t, tokens.Refresh)

	user, err := s.VerifyToken(ctx, tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, core.User{UID: addr, Provider: "metamask"}, user)

	cs, err := s.CurrentSession(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, core.ConnectorInjected, cs.ConnectorType)
	assert.Equal(t, addr, cs.UID)
}

func TestAuthService_RegisterRejections(t *testing.T) {
	ctx := context.Background()
	s := newService(t, service.WithRequireSignature())

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	other := crypto.PubkeyToAddress(key.PublicKey).Hex()

	tests := []struct {
		name    string
		project string
		session func() ports.RegistrationSession
		want    error
	}{
		{"unknown project", "proj-2", func() ports.RegistrationSession { rs, _ := signChallenge(t, s); return rs }, core.ErrProjectNotFound},
		{"unsigned", "proj-1", func() ports.RegistrationSession { return walletSession(other) }, core.ErrInvalidSignature},
		{"malformed address", "proj-1", func() ports.RegistrationSession { return walletSession("0x123") }, core.ErrInvalidSession},
		{"signed by someone else", "proj-1", func() ports.RegistrationSession {
			rs, _ := signChallenge(t, s)
			rs.UID = other
			return rs
		}, core.ErrInvalidSignature},
		{"garbage challenge", "proj-1", func() ports.RegistrationSession {
			rs, _ := signChallenge(t, s)
			rs.Challenge = "garbage"
			return rs
		}, core.ErrInvalidChallenge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.project, ports.RegisterRequest{Provider: "metamask", Sessions: []ports.RegistrationSession{tt.session()}})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "metamask"})
	assert.ErrorIs(t, err, core.ErrInvalidSession)
}

func TestAuthService_ExpiredChallenge(t *testing.T) {
	s := newService(t, service.WithTTLs(time.Millisecond, time.Minute, time.Hour))
	rs, _ := signChallenge(t, s)
	time.Sleep(1100 * time.Millisecond)

	_, err := s.Register(context.Background(), "proj-1", ports.RegisterRequest{Provider: "metamask", Sessions: []ports.RegistrationSession{rs}})
	assert.ErrorIs(t, err, core.ErrInvalidChallenge)
}

func TestAuthService_OAuthFlow(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	resp, err := s.OAuthRedirect(ctx, "proj-1", ports.RedirectRequest{Provider: "github", RedirectURI: "https://app.example/cb"})
	require.NoError(t, err)
	state := resp.Verifiers["state"]
	require.NotEmpty(t, state)

	u, err := url.Parse(resp.URL)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))
	assert.Equal(t, "https://app.example/cb", u.Query().Get("redirect_uri"))

	rs := ports.RegistrationSession{
		CurrentSession: core.CurrentSession{Provider: "github", ConnectorType: core.ConnectorOAuth},
		Code:           "good",
		State:          state,
		RedirectURI:    "https://app.example/cb",
	}
	tokens, err := s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "github", Sessions: []ports.RegistrationSession{rs}})
	require.NoError(t, err)

	user, err := s.VerifyToken(ctx, tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, core.User{UID: "github:42", Provider: "github"}, user)

	_, err = s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "github", Sessions: []ports.RegistrationSession{rs}})
	assert.ErrorIs(t, err, core.ErrAuthenticityFailed, "a state is consumed once")
}

func TestAuthService_OAuthRedirectErrors(t *testing.T) {
	s := newService(t)
	_, err := s.OAuthRedirect(context.Background(), "proj-1", ports.RedirectRequest{Provider: "myspace"})
	assert.ErrorIs(t, err, core.ErrUnknownVendor)

	_, err = s.OAuthRedirect(context.Background(), "proj-9", ports.RedirectRequest{Provider: "github"})
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

func TestAuthService_RefreshAndLogout(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	rs, _ := signChallenge(t, s)
	tokens, err := s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "metamask", Sessions: []ports.RegistrationSession{rs}})
	require.NoError(t, err)

	rotated, err := s.Refresh(ctx, tokens.Refresh)
	require.NoError(t, err)
	assert.NotEqual(t, tokens.Refresh, rotated.Refresh)

	_, err = s.Refresh(ctx, tokens.Refresh)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
	_, err = s.VerifyToken(ctx, tokens.Access)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)

	_, err = s.VerifyToken(ctx, rotated.Access)
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx, rotated.Refresh))
	_, err = s.VerifyToken(ctx, rotated.Access)
	assert.ErrorIs(t, err, core.ErrTokenInvalidated)
}

func TestAuthService_UpdateCurrentSession(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	rs, addr := signChallenge(t, s)
	_, err := s.Register(ctx, "proj-1", ports.RegisterRequest{Provider: "metamask", Sessions: []ports.RegistrationSession{rs}})
	require.NoError(t, err)

	relay := core.CurrentSession{
		UID:           strings.ToLower(addr),
		Provider:      "metamask",
		ConnectorType: core.ConnectorRelay,
		Session:       json.RawMessage(`{"topic":"t"}`),
	}
	require.NoError(t, s.UpdateCurrentSession(ctx, addr, relay))
	cs, err := s.CurrentSession(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, core.ConnectorRelay, cs.ConnectorType)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	relay.UID = crypto.PubkeyToAddress(key.PublicKey).Hex()
	assert.ErrorIs(t, s.UpdateCurrentSession(ctx, addr, relay), core.ErrInvalidSession)
}
