package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// Option configures an AuthService
type Option func(*AuthService)

// WithProjects sets the project identifier of every accepted api key
func WithProjects(projects map[string]string) Option {
	return func(s *AuthService) {
		for key, ident := range projects {
			s.projects[key] = ident
			s.idents[ident] = struct{}{}
		}
	}
}

// WithVendors registers the OAuth vendors available for redirects
func WithVendors(vendors ...ports.OAuthVendor) Option {
	return func(s *AuthService) {
		for _, v := range vendors {
			s.vendors[v.Name()] = v
		}
	}
}

// WithTTLs overrides the challenge, access and refresh token lifetimes
func WithTTLs(challenge, access, refresh time.Duration) Option {
	return func(s *AuthService) {
		s.challengeTTL, s.accessTTL, s.refreshTTL = challenge, access, refresh
	}
}

// WithRequireSignature rejects wallet sessions without a signed challenge
func WithRequireSignature() Option {
	return func(s *AuthService) { s.requireSignature = true }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.log = l
		}
	}
}

// AuthService handles authentication business logic
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.Store
	eventPub  ports.EventPublisher
	log       logrus.FieldLogger

	projects         map[string]string // api key -> project identifier
	idents           map[string]struct{}
	vendors          map[string]ports.OAuthVendor
	requireSignature bool

	challengeTTL time.Duration
	accessTTL    time.Duration
	refreshTTL   time.Duration
	verifierTTL  time.Duration
	now          func() time.Time
}

// NewAuthService creates a new authentication service
func NewAuthService(
	tokenizer ports.Tokenizer,
	store ports.Store,
	eventPub ports.EventPublisher,
	opts ...Option,
) *AuthService {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		log:          discard,
		projects:     make(map[string]string),
		idents:       make(map[string]struct{}),
		vendors:      make(map[string]ports.OAuthVendor),
		challengeTTL: 5 * time.Minute,
		accessTTL:    5 * time.Minute,
		refreshTTL:   5 * 24 * time.Hour, // 5 days
		verifierTTL:  10 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AccessTTL is the lifetime of issued access tokens
func (s *AuthService) AccessTTL() time.Duration { return s.accessTTL }

// VerifyAPIKey checks an api key
func (s *AuthService) VerifyAPIKey(apiKey string) error {
	if _, ok := s.projects[apiKey]; !ok || apiKey == "" {
		return core.ErrInvalidAPIKey
	}
	return nil
}

// Project returns the project identifier of an api key
func (s *AuthService) Project(apiKey string) (string, error) {
	ident, ok := s.projects[apiKey]
	if !ok || apiKey == "" {
		return "", core.ErrInvalidAPIKey
	}
	return ident, nil
}

// VerifyProject checks a project identifier
func (s *AuthService) VerifyProject(ident string) error {
	if _, ok := s.idents[ident]; !ok {
		return core.ErrProjectNotFound
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// OAuthRedirect issues the authorization URL of a vendor. The PKCE code
// verifier stays on the server under the returned state.
func (s *AuthService) OAuthRedirect(ctx context.Context, project string, req ports.RedirectRequest) (ports.RedirectResponse, error) {
	if err := s.VerifyProject(project); err != nil {
		return ports.RedirectResponse{}, err
	}
	vendor, ok := s.vendors[req.Provider]
	if !ok {
		return ports.RedirectResponse{}, fmt.Errorf("%w: %s", core.ErrUnknownVendor, req.Provider)
	}

	state, err := randomHex(16)
	if err != nil {
		return ports.RedirectResponse{}, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()
	err = s.store.SaveVerifier(ctx, state, ports.OAuthVerifier{
		Provider:     vendor.Name(),
		CodeVerifier: verifier,
		RedirectURI:  req.RedirectURI,
	}, s.verifierTTL)
	if err != nil {
		return ports.RedirectResponse{}, err
	}

	s.log.WithFields(logrus.Fields{"provider": vendor.Name(), "project": project}).Debug("oauth redirect issued")
	return ports.RedirectResponse{
		URL:       vendor.AuthCodeURL(state, verifier, req.RedirectURI),
		Verifiers: map[string]string{"state": state},
	}, nil
}

// CreateChallenge generates a new authentication challenge
func (s *AuthService) CreateChallenge(address string) (ports.ChallengeResponse, error) {
	if !common.IsHexAddress(address) {
		return ports.ChallengeResponse{}, fmt.Errorf("%w: malformed address %q", core.ErrInvalidChallenge, address)
	}

	nonce, err := randomHex(32)
	if err != nil {
		return ports.ChallengeResponse{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now()
	challenge := &core.Challenge{
		ID:        uuid.New().String(),
		Address:   common.HexToAddress(address).Hex(),
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.challengeTTL),
	}

	token, err := s.tokenizer.ChallengeToToken(challenge)
	if err != nil {
		return ports.ChallengeResponse{}, fmt.Errorf("failed to create token: %w", err)
	}
	return ports.ChallengeResponse{Token: token, Message: core.ChallengeMessage(nonce)}, nil
}

// Register verifies every session of req and signs the user in as the
// identity of the first one.
func (s *AuthService) Register(ctx context.Context, project string, req ports.RegisterRequest) (core.Tokens, error) {
	if err := s.VerifyProject(project); err != nil {
		return core.Tokens{}, err
	}
	if len(req.Sessions) == 0 {
		return core.Tokens{}, fmt.Errorf("%w: no sessions", core.ErrInvalidSession)
	}

	var primary core.CurrentSession
	for i, rs := range req.Sessions {
		cs, err := s.verifySession(ctx, req.Provider, rs)
		if err != nil {
			s.log.WithError(err).WithField("provider", req.Provider).Warn("registration rejected")
			if pubErr := s.eventPub.PublishAuthenticationFailed(ctx, req.Provider, err.Error()); pubErr != nil {
				s.log.WithError(pubErr).Warn("failed to publish authentication failure")
			}
			return core.Tokens{}, err
		}
		if i == 0 {
			primary = cs
		}
	}

	if err := s.store.SaveCurrentSession(ctx, primary.UID, primary); err != nil {
		return core.Tokens{}, err
	}
	tokens, err := s.issue(primary.UID, primary.Provider)
	if err != nil {
		return core.Tokens{}, err
	}

	user := core.User{UID: primary.UID, Provider: primary.Provider}
	if err := s.eventPub.PublishAuthenticated(ctx, user); err != nil {
		s.log.WithError(err).Warn("failed to publish authentication event")
	}
	s.log.WithFields(logrus.Fields{"uid": user.UID, "provider": user.Provider}).Info("identity registered")
	return tokens, nil
}

func (s *AuthService) verifySession(ctx context.Context, provider string, rs ports.RegistrationSession) (core.CurrentSession, error) {
	cs := rs.CurrentSession
	if cs.Provider == "" {
		cs.Provider = provider
	}

	if cs.ConnectorType == core.ConnectorOAuth {
		return s.verifyOAuth(ctx, cs, rs)
	}

	if !common.IsHexAddress(cs.UID) {
		return cs, fmt.Errorf("%w: malformed address %q", core.ErrInvalidSession, cs.UID)
	}
	cs.UID = common.HexToAddress(cs.UID).Hex()

	if rs.Signature == "" {
		if s.requireSignature {
			return cs, fmt.Errorf("%w: signed challenge required", core.ErrInvalidSignature)
		}
		return cs, nil
	}

	challenge, err := s.tokenizer.TokenToChallenge(rs.Challenge)
	if err != nil {
		return cs, fmt.Errorf("%w: %w", core.ErrInvalidChallenge, err)
	}
	if s.now().After(challenge.ExpiresAt) {
		return cs, fmt.Errorf("%w: challenge expired", core.ErrInvalidChallenge)
	}
	if err := s.tokenizer.VerifySignature(challenge, rs.Signature, cs.UID); err != nil {
		return cs, fmt.Errorf("signature verification failed: %w", err)
	}
	return cs, nil
}

func (s *AuthService) verifyOAuth(ctx context.Context, cs core.CurrentSession, rs ports.RegistrationSession) (core.CurrentSession, error) {
	if rs.Code == "" || rs.State == "" {
		return cs, fmt.Errorf("%w: code and state required", core.ErrAuthenticityFailed)
	}
	v, err := s.store.ConsumeVerifier(ctx, rs.State)
	if err != nil {
		if errors.Is(err, passport.ErrKeyNotFound) {
			return cs, fmt.Errorf("%w: unknown or used state", core.ErrAuthenticityFailed)
		}
		return cs, err
	}
	if rs.RedirectURI != "" && rs.RedirectURI != v.RedirectURI {
		return cs, fmt.Errorf("%w: redirect uri mismatch", core.ErrAuthenticityFailed)
	}
	vendor, ok := s.vendors[v.Provider]
	if !ok {
		return cs, fmt.Errorf("%w: %s", core.ErrUnknownVendor, v.Provider)
	}

	id, err := vendor.Exchange(ctx, rs.Code, v.CodeVerifier, v.RedirectURI)
	if err != nil {
		return cs, err
	}
	cs.UID = v.Provider + ":" + id.Subject
	return cs, nil
}

func (s *AuthService) issue(uid, provider string) (core.Tokens, error) {
	now := s.now()
	session := &core.AuthSession{
		ID:            uuid.New().String(),
		UID:           uid,
		Provider:      provider,
		IssuedAt:      now,
		RefreshExpiry: now.Add(s.refreshTTL),
		AccessExpiry:  now.Add(s.accessTTL),
		RefreshID:     uuid.New().String(),
	}

	access, err := s.tokenizer.SessionToAccessToken(session)
	if err != nil {
		return core.Tokens{}, fmt.Errorf("failed to create access token: %w", err)
	}
	refresh, err := s.tokenizer.SessionToRefreshToken(session)
	if err != nil {
		return core.Tokens{}, fmt.Errorf("failed to create refresh token: %w", err)
	}
	return core.Tokens{Refresh: refresh, Access: access}, nil
}

// Refresh rotates the refresh token and issues new access and refresh tokens
func (s *AuthService) Refresh(ctx context.Context, refreshTokenStr string) (core.Tokens, error) {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return core.Tokens{}, fmt.Errorf("invalid refresh token: %w", err)
	}
	if s.now().After(session.RefreshExpiry) {
		return core.Tokens{}, core.ErrTokenExpired
	}

	invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
	if err != nil {
		return core.Tokens{}, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return core.Tokens{}, core.ErrTokenInvalidated
	}

	// The old refresh token stays invalid for the rest of its lifetime.
	if err := s.store.InvalidateToken(ctx, session.RefreshID, session.RefreshExpiry.Sub(s.now())); err != nil {
		return core.Tokens{}, fmt.Errorf("failed to invalidate old token: %w", err)
	}
	return s.issue(session.UID, session.Provider)
}

// Logout invalidates a refresh token
func (s *AuthService) Logout(ctx context.Context, refreshTokenStr string) error {
	session, err := s.tokenizer.RefreshTokenToSession(refreshTokenStr)
	if err != nil {
		return fmt.Errorf("invalid refresh token: %w", err)
	}

	remaining := session.RefreshExpiry.Sub(s.now())
	if remaining <= 0 {
		remaining = time.Hour
	}
	if err := s.store.InvalidateToken(ctx, session.RefreshID, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	// The token is already invalid; a lost event only delays other instances.
	if err := s.eventPub.PublishLogout(ctx, session.UID, session.RefreshID); err != nil {
		s.log.WithError(err).Warn("failed to publish logout event")
	}
	return nil
}

// ValidateAccessToken parses an access token and checks its refresh token
// was not invalidated.
func (s *AuthService) ValidateAccessToken(ctx context.Context, accessToken string) (*core.AuthSession, error) {
	session, err := s.tokenizer.AccessTokenToSession(accessToken)
	if err != nil {
		return nil, fmt.Errorf("invalid access token: %w", err)
	}
	if s.now().After(session.AccessExpiry) {
		return nil, core.ErrTokenExpired
	}

	if session.RefreshID != "" {
		invalidated, err := s.store.IsTokenInvalidated(ctx, session.RefreshID)
		if err != nil {
			return nil, fmt.Errorf("failed to check token invalidation: %w", err)
		}
		if invalidated {
			return nil, core.ErrTokenInvalidated
		}
	}
	return session, nil
}

// VerifyToken returns the user behind an access token
func (s *AuthService) VerifyToken(ctx context.Context, accessToken string) (core.User, error) {
	session, err := s.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return core.User{}, err
	}
	return core.User{UID: session.UID, Provider: session.Provider}, nil
}

// UpdateCurrentSession replaces the current session of the signed in user.
// A wallet may switch to another transport, never to another account.
func (s *AuthService) UpdateCurrentSession(ctx context.Context, uid string, cs core.CurrentSession) error {
	if cs.ConnectorType != core.ConnectorOAuth && common.IsHexAddress(cs.UID) {
		cs.UID = common.HexToAddress(cs.UID).Hex()
	}
	if !strings.EqualFold(cs.UID, uid) {
		return fmt.Errorf("%w: session belongs to %s", core.ErrInvalidSession, cs.UID)
	}
	return s.store.SaveCurrentSession(ctx, uid, cs)
}

// CurrentSession returns the current session of uid
func (s *AuthService) CurrentSession(ctx context.Context, uid string) (core.CurrentSession, error) {
	return s.store.CurrentSession(ctx, uid)
}
