package backend_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/adapters/backend"
	"github.com/layer-3/passport/adapters/events"
	"github.com/layer-3/passport/adapters/store"
	"github.com/layer-3/passport/adapters/tokenizer"
	"github.com/layer-3/passport/app"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/internal/testwallet"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/service"
	transport "github.com/layer-3/passport/transport/http"
)

type stubVendor struct{}

func (stubVendor) Name() string { return "github" }

func (stubVendor) AuthCodeURL(state, _, redirectURI string) string {
	return "https://github.example/authorize?" + url.Values{"state": {state}, "redirect_uri": {redirectURI}}.Encode()
}

func (stubVendor) Exchange(context.Context, string, string, string) (ports.ExternalIdentity, error) {
	return ports.ExternalIdentity{Subject: "42"}, nil
}

type server struct {
	*httptest.Server
	mu   sync.Mutex
	hits map[string]int
}

func (s *server) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	ps := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })

	svc := service.NewAuthService(
		tokenizer.NewJWTTokenizer(key),
		store.NewMemoryStore(),
		events.NewWatermillPublisher(ps),
		service.WithProjects(map[string]string{"key-1": "proj-1"}),
		service.WithVendors(stubVendor{}),
		service.WithRequireSignature(),
	)
	registry := identity.DefaultRegistry(identity.Defaults{Env: channel.NewEnvironment(), Relay: testwallet.NewRelayTransport()})
	router := transport.SetupRouter(svc, registry, prometheus.NewRegistry(), logrus.New())

	s := &server{hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestClient_APIKeyAndProject(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := backend.NewClient(srv.URL, "key-1")

	require.NoError(t, c.VerifyAPIKey(ctx))
	assert.ErrorIs(t, backend.NewClient(srv.URL, "wrong").VerifyAPIKey(ctx), core.ErrInvalidAPIKey)

	for range 2 {
		ident, err := c.ProjectIdentifier(ctx)
		require.NoError(t, err)
		assert.Equal(t, "proj-1", ident)
	}
	assert.Equal(t, 1, srv.count("/api/v1/project"))

	// ProjectIdentifier already vouched for proj-1.
	require.NoError(t, c.VerifyProjectIdentifier(ctx, "proj-1"))
	assert.Zero(t, srv.count("/api/v1/project/verify"))
}

func TestClient_VerifyProjectIdentifier(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := backend.NewClient(srv.URL, "key-1", backend.WithProjectCache(8, time.Minute))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.VerifyProjectIdentifier(ctx, "proj-1"))
		}()
	}
	wg.Wait()
	require.NoError(t, c.VerifyProjectIdentifier(ctx, "proj-1"))
	assert.LessOrEqual(t, srv.count("/api/v1/project/verify"), 8)
	before := srv.count("/api/v1/project/verify")
	require.NoError(t, c.VerifyProjectIdentifier(ctx, "proj-1"))
	assert.Equal(t, before, srv.count("/api/v1/project/verify"))

	assert.ErrorIs(t, c.VerifyProjectIdentifier(ctx, "proj-9"), core.ErrProjectNotFound)
	assert.ErrorIs(t, c.VerifyProjectIdentifier(ctx, ""), core.ErrProjectIdentifierMissing)
}

func TestClient_OAuthRedirect(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := backend.NewClient(srv.URL, "key-1")

	resp, err := c.OAuthRedirect(ctx, ports.RedirectRequest{Provider: "github", RedirectURI: "https://app.example/cb", ProjectIdentifier: "proj-1"})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Verifiers["state"])
	u, err := url.Parse(resp.URL)
	require.NoError(t, err)
	assert.Equal(t, resp.Verifiers["state"], u.Query().Get("state"))

	_, err = c.OAuthRedirect(ctx, ports.RedirectRequest{Provider: "myspace", ProjectIdentifier: "proj-1"})
	assert.ErrorIs(t, err, core.ErrUnknownVendor)
	_, err = c.OAuthRedirect(ctx, ports.RedirectRequest{Provider: "github", ProjectIdentifier: "proj-9"})
	assert.ErrorIs(t, err, core.ErrProjectNotFound)

	_, err = c.Register(ctx, ports.RegisterRequest{
		Provider: "github",
		Sessions: []ports.RegistrationSession{{
			CurrentSession: core.CurrentSession{Provider: "github", ConnectorType: core.ConnectorOAuth},
			Code:           "code",
			State:          "forged",
		}},
		ProjectIdentifier: "proj-1",
	})
	assert.ErrorIs(t, err, core.ErrAuthenticityFailed)
}

func TestClient_UnsignedWalletRejected(t *testing.T) {
	srv := newServer(t)
	c := backend.NewClient(srv.URL, "key-1")

	_, err := c.Register(context.Background(), ports.RegisterRequest{
		Provider: "metamask",
		Sessions: []ports.RegistrationSession{{CurrentSession: core.CurrentSession{
			UID:           "0x000000000000000000000000000000000000dEaD",
			ConnectorType: core.ConnectorInjected,
		}}},
		ProjectIdentifier: "proj-1",
	})
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

// A wallet signs in through the frame against the real backend.
func TestClient_WalletSignIn(t *testing.T) {
	ctx := context.Background()
	srv := newServer(t)
	c := backend.NewClient(srv.URL, "key-1")

	wallet := testwallet.New(1)
	env := channel.NewEnvironment()
	env.Inject("ethereum", wallet.Handle("isMetaMask"))
	registry := identity.DefaultRegistry(identity.Defaults{Env: env})
	storage := passport.NewMemoryStorage()
	require.NoError(t, storage.Set(ctx, passport.KeyProjectIdentifier, "proj-1", 0))

	fr := app.NewFrame(storage, registry, app.WithBackend(c), app.WithChallengeSigning())
	var results []app.Result
	var failures []app.Failure
	fr.OnSuccess(func(r app.Result) { results = append(results, r) })
	fr.OnFailure(func(f app.Failure) { failures = append(failures, f) })

	require.NoError(t, fr.StartAuthentication(ctx, "metamask", nil))
	require.Len(t, results, 1, "failures: %v", failures)
	res := results[0]

	user, err := c.VerifyToken(ctx, res.Tokens.Access)
	require.NoError(t, err)
	assert.Equal(t, core.User{UID: wallet.Address.Hex(), Provider: "metamask"}, user)

	require.NotNil(t, res.Session)
	require.NoError(t, c.UpdateCurrentSession(ctx, res.Tokens.Access, *res.Session))

	_, err = c.VerifyToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, core.ErrInvalidToken)
}

func TestRouter_Providers(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/providers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []transport.ProviderInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"metamask", "coinbase", "walletconnect", "google", "github", "discord"}, ids)
	assert.Equal(t, []core.ConnectorType{core.ConnectorInjected, core.ConnectorRelay}, infos[0].ConnectorTypes)
	assert.Equal(t, core.Decentralized, infos[0].WebVersion)
	assert.Equal(t, []core.ConnectorType{core.ConnectorOAuth}, infos[3].ConnectorTypes)
}

func TestRouter_Metrics(t *testing.T) {
	srv := newServer(t)
	_, _ = backend.NewClient(srv.URL, "key-1").ProjectIdentifier(context.Background())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
