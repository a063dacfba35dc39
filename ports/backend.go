package ports

import (
	"context"

	"github.com/layer-3/passport/core"
)

// Header names of the backend REST contract.
const (
	HeaderAPIKey            = "X-API-KEY"
	HeaderProjectIdentifier = "X-PROJECT-IDENT"
	HeaderUserIdentifier    = "X-USER-IDENT"
	HeaderAuthorization     = "Authorization"
)

// RedirectRequest asks the backend for an OAuth authorization URL.
type RedirectRequest struct {
	Provider          string `json:"provider"`
	RedirectURI       string `json:"redirect_uri"`
	ProjectIdentifier string `json:"-"`
}

// RedirectResponse carries the authorization URL and the values the
// redirect must echo back unchanged.
type RedirectResponse struct {
	URL       string            `json:"url"`
	Verifiers map[string]string `json:"verifiers"`
}

// RegistrationSession is one proof of identity sent on registration. Web3
// sessions may carry a signed challenge, web2 sessions carry the OAuth code.
type RegistrationSession struct {
	core.CurrentSession

	ChainID   core.ChainID `json:"chain_id,omitempty"`
	Challenge string       `json:"challenge,omitempty"`
	Signature string       `json:"signature,omitempty"`

	Code        string `json:"code,omitempty"`
	State       string `json:"state,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// ChallengeResponse is a challenge issued to a wallet address. Token is
// sent back on registration together with the signature of Message.
type ChallengeResponse struct {
	Token   string `json:"challenge"`
	Message string `json:"message"`
}

// RegisterRequest is the body of POST /token.
type RegisterRequest struct {
	Provider          string                `json:"provider"`
	Sessions          []RegistrationSession `json:"sessions"`
	ProjectIdentifier string                `json:"-"`
}

// Backend is the client view of the REST backend.
type Backend interface {
	VerifyAPIKey(ctx context.Context) error
	ProjectIdentifier(ctx context.Context) (string, error)
	VerifyProjectIdentifier(ctx context.Context, ident string) error
	OAuthRedirect(ctx context.Context, req RedirectRequest) (RedirectResponse, error)
	Challenge(ctx context.Context, address string) (ChallengeResponse, error)
	Register(ctx context.Context, req RegisterRequest) (core.Tokens, error)
	UpdateCurrentSession(ctx context.Context, access string, s core.CurrentSession) error
	VerifyToken(ctx context.Context, access string) (core.User, error)
}
