package ports

import "context"

// ExternalIdentity is the user as known to an OAuth vendor.
type ExternalIdentity struct {
	Subject string
	Email   string
	Name    string
}

// OAuthVendor issues authorization URLs and exchanges codes for one vendor.
type OAuthVendor interface {
	Name() string
	AuthCodeURL(state, codeVerifier, redirectURI string) string
	Exchange(ctx context.Context, code, codeVerifier, redirectURI string) (ExternalIdentity, error)
}
