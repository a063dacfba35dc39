package ports

import (
	"errors"
	"fmt"

	"github.com/layer-3/passport/core"
)

// ErrorResponse is the body of every failed backend call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

var wireErrors = []struct {
	code string
	err  error
}{
	{"invalid_api_key", core.ErrInvalidAPIKey},
	{"project_not_found", core.ErrProjectNotFound},
	{"unknown_vendor", core.ErrUnknownVendor},
	{"invalid_challenge", core.ErrInvalidChallenge},
	{"invalid_signature", core.ErrInvalidSignature},
	{"token_expired", core.ErrTokenExpired},
	{"token_invalidated", core.ErrTokenInvalidated},
	{"invalid_token", core.ErrInvalidToken},
	{"invalid_session", core.ErrInvalidSession},
	{"authenticity_failed", core.ErrAuthenticityFailed},
}

// WireCode returns the error code sent for err, or "" for internal errors.
func WireCode(err error) string {
	for _, w := range wireErrors {
		if errors.Is(err, w.err) {
			return w.code
		}
	}
	return ""
}

// WireError rebuilds the error of a failed backend call.
func WireError(resp ErrorResponse) error {
	for _, w := range wireErrors {
		if w.code == resp.Code {
			return fmt.Errorf("%w: %s", w.err, resp.Error)
		}
	}
	return errors.New(resp.Error)
}
