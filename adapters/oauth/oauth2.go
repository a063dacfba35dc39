// Package oauth implements OAuth vendors: plain OAuth2 vendors that expose a
// user info endpoint and OpenID Connect vendors that return a signed ID token.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/ports"
)

// DiscordEndpoint is Discord's OAuth2 endpoint.
var DiscordEndpoint = oauth2.Endpoint{
	AuthURL:   "https://discord.com/oauth2/authorize",
	TokenURL:  "https://discord.com/api/oauth2/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// OAuth2Vendor authorizes with PKCE S256 and reads the user from a user
// info endpoint.
type OAuth2Vendor struct {
	name        string
	config      oauth2.Config
	userInfoURL string
}

var _ ports.OAuthVendor = (*OAuth2Vendor)(nil)

// NewOAuth2Vendor creates a vendor. RedirectURL of cfg is replaced per
// request.
func NewOAuth2Vendor(name string, cfg oauth2.Config, userInfoURL string) *OAuth2Vendor {
	return &OAuth2Vendor{name: name, config: cfg, userInfoURL: userInfoURL}
}

// GitHub returns the github vendor.
func GitHub(clientID, clientSecret string) *OAuth2Vendor {
	return NewOAuth2Vendor("github", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     endpoints.GitHub,
		Scopes:       []string{"read:user", "user:email"},
	}, "https://api.github.com/user")
}

// Discord returns the discord vendor.
func Discord(clientID, clientSecret string) *OAuth2Vendor {
	return NewOAuth2Vendor("discord", oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     DiscordEndpoint,
		Scopes:       []string{"identify", "email"},
	}, "https://discord.com/api/users/@me")
}

func (v *OAuth2Vendor) Name() string { return v.name }

func (v *OAuth2Vendor) configFor(redirectURI string) *oauth2.Config {
	cfg := v.config
	cfg.RedirectURL = redirectURI
	return &cfg
}

// AuthCodeURL returns the authorization URL carrying state and the S256
// challenge of codeVerifier.
func (v *OAuth2Vendor) AuthCodeURL(state, codeVerifier, redirectURI string) string {
	return v.configFor(redirectURI).AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

// Exchange trades code for a token and fetches the user behind it.
func (v *OAuth2Vendor) Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (ports.ExternalIdentity, error) {
	cfg := v.configFor(redirectURI)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s code exchange: %w: %w", v.name, core.ErrAuthenticityFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.userInfoURL, nil)
	if err != nil {
		return ports.ExternalIdentity{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cfg.Client(ctx, tok).Do(req)
	if err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s user info: %w", v.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ports.ExternalIdentity{}, fmt.Errorf("%s user info: unexpected status %d", v.name, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ports.ExternalIdentity{}, fmt.Errorf("%s user info: %w", v.name, err)
	}
	id := info.identity()
	if id.Subject == "" {
		return ports.ExternalIdentity{}, fmt.Errorf("%s user info: %w: no subject", v.name, core.ErrAuthenticityFailed)
	}
	return id, nil
}

// userInfo covers the user objects of the supported vendors: github and
// discord use a numeric or string id, OIDC style endpoints use sub.
type userInfo struct {
	Sub      string      `json:"sub"`
	ID       json.Number `json:"id"`
	Email    string      `json:"email"`
	Name     string      `json:"name"`
	Login    string      `json:"login"`
	Username string      `json:"username"`
}

func (u userInfo) identity() ports.ExternalIdentity {
	id := ports.ExternalIdentity{Subject: u.Sub, Email: u.Email, Name: u.Name}
	if id.Subject == "" {
		id.Subject = u.ID.String()
	}
	if id.Name == "" {
		id.Name = u.Login
	}
	if id.Name == "" {
		id.Name = u.Username
	}
	return id
}
