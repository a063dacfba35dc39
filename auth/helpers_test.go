package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/auth"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
)

type fakeBackend struct {
	mu            sync.Mutex
	registrations []ports.RegisterRequest
	redirects     []ports.RedirectRequest
	registerErr   error
	projectErr    error
	redirect      ports.RedirectResponse
}

var _ ports.Backend = (*fakeBackend)(nil)

func (b *fakeBackend) VerifyAPIKey(context.Context) error { return nil }

func (b *fakeBackend) ProjectIdentifier(context.Context) (string, error) { return "proj-1", nil }

func (b *fakeBackend) VerifyProjectIdentifier(_ context.Context, ident string) error {
	if b.projectErr != nil {
		return b.projectErr
	}
	if ident != "proj-1" {
		return core.ErrProjectNotFound
	}
	return nil
}

func (b *fakeBackend) OAuthRedirect(_ context.Context, req ports.RedirectRequest) (ports.RedirectResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.redirects = append(b.redirects, req)
	return b.redirect, nil
}

func (b *fakeBackend) Challenge(context.Context, string) (ports.ChallengeResponse, error) {
	return ports.ChallengeResponse{}, errors.New("not implemented")
}

func (b *fakeBackend) Register(_ context.Context, req ports.RegisterRequest) (core.Tokens, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registrations = append(b.registrations, req)
	if b.registerErr != nil {
		return core.Tokens{}, b.registerErr
	}
	return core.Tokens{Refresh: "refresh-token", Access: "access-token"}, nil
}

func (b *fakeBackend) UpdateCurrentSession(context.Context, string, core.CurrentSession) error {
	return nil
}

func (b *fakeBackend) VerifyToken(context.Context, string) (core.User, error) {
	return core.User{}, nil
}

func (b *fakeBackend) registered() []ports.RegisterRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ports.RegisterRequest(nil), b.registrations...)
}

type recorder struct {
	mu   sync.Mutex
	msgs []core.RespondMessage
}

func (r *recorder) record(m core.RespondMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) messages() []core.RespondMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.RespondMessage(nil), r.msgs...)
}

type fakeWindow struct {
	mu      sync.Mutex
	posted  []core.RespondMessage
	origins []string
	closed  int
}

func (w *fakeWindow) PostMessage(msg core.RespondMessage, origin string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.posted = append(w.posted, msg)
	w.origins = append(w.origins, origin)
	return nil
}

func (w *fakeWindow) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

type fakeNavigator struct {
	urls []string
}

func (n *fakeNavigator) Navigate(_ context.Context, url string) error {
	n.urls = append(n.urls, url)
	return nil
}

type env struct {
	storage  *passport.MemoryStorage
	registry *identity.Registry
	backend  *fakeBackend
	rec      *recorder
	nav      *fakeNavigator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return &env{
		storage:  passport.NewMemoryStorage(),
		registry: identity.DefaultRegistry(identity.Defaults{Env: channel.NewEnvironment()}),
		backend:  &fakeBackend{},
		rec:      &recorder{},
		nav:      &fakeNavigator{},
	}
}

func (e *env) delegate(opts ...auth.Option) *auth.Delegate {
	base := []auth.Option{
		auth.WithBackend(e.backend),
		auth.WithCallback(e.rec.record),
		auth.WithNavigator(e.nav),
		auth.WithRedirectURI("https://app.example/auth/callback"),
	}
	return auth.NewDelegate(e.storage, e.registry, append(base, opts...)...)
}

func (e *env) setProject(t *testing.T) {
	t.Helper()
	require.NoError(t, e.storage.Set(context.Background(), passport.KeyProjectIdentifier, "proj-1", 0))
}
