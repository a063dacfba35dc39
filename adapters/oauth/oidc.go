package oauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// OIDCVendor authorizes with PKCE S256 and identifies the user by the
// verified ID token.
type OIDCVendor struct {
	name     string
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

var _ ports.OAuthVendor = (*OIDCVendor)(nil)

// NewOIDCVendor discovers issuer and creates a vendor.
func NewOIDCVendor(ctx context.Context, name, issuer, clientID, clientSecret string, scopes ...string) (*OIDCVendor, error) {
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", issuer, err)
	}
	cfg := oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     p.Endpoint(),
		Scopes:       append([]string{oidc.ScopeOpenID}, scopes...),
	}
	return NewOIDCVendorWithVerifier(name, cfg, p.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// Google discovers the google vendor.
func Google(ctx context.Context, clientID, clientSecret string) (*OIDCVendor, error) {
	return NewOIDCVendor(ctx, "google", "https://accounts.google.com", clientID, clientSecret, "email", "profile")
}

// NewOIDCVendorWithVerifier creates a vendor with a prepared verifier.
func NewOIDCVendorWithVerifier(name string, cfg oauth2.Config, verifier *oidc.IDTokenVerifier) *OIDCVendor {
	return &OIDCVendor{name: name, config: cfg, verifier: verifier}
}

func (v *OIDCVendor) Name() string { return v.name }

func (v *OIDCVendor) AuthCodeURL(state, codeVerifier, redirectURI string) string {
	cfg := v.config
	cfg.RedirectURL = redirectURI
	return cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

func (v *OIDCVendor) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (ports.ExternalIdentity, error) {
	cfg := v.config
	cfg.RedirectURL = redirectURI
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s code exchange: %w: %w", v.name, core.ErrAuthenticityFailed, err)
	}

	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return ports.ExternalIdentity{}, fmt.Errorf("%s: %w: no id_token in token response", v.name, core.ErrAuthenticityFailed)
	}
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s: %w: %w", v.name, core.ErrAuthenticityFailed, err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s id_token claims: %w", v.name, err)
	}
	return ports.ExternalIdentity{Subject: idToken.Subject, Email: claims.Email, Name: claims.Name}, nil
}
