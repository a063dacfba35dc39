package ports

import (
	"context"
	"time"

	"github.com/layer-3/passport/core"
)

// OAuthVerifier is what the backend keeps between issuing an authorization
// URL and exchanging the returned code.
type OAuthVerifier struct {
	Provider     string `json:"provider"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

// Store is the backend state: invalidated tokens, pending OAuth verifiers
// and the current session of each user.
type Store interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)

	// SaveVerifier stores v under the OAuth state value.
	SaveVerifier(ctx context.Context, state string, v OAuthVerifier, ttl time.Duration) error
	// ConsumeVerifier returns and deletes the verifier stored under state.
	ConsumeVerifier(ctx context.Context, state string) (OAuthVerifier, error)

	SaveCurrentSession(ctx context.Context, uid string, s core.CurrentSession) error
	CurrentSession(ctx context.Context, uid string) (core.CurrentSession, error)
}
