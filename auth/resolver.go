package auth

import (
	"context"
	"errors"
	"strconv"

	"github.com/layer-3/passport/core"
)

// IdentityResolver drives one attempt of a provider family to a terminal
// response.
type IdentityResolver interface {
	WebVersion() core.WebVersion
	CaptureURI(ctx context.Context, data map[string]string) error
	AuthenticateAndRespond(ctx context.Context, data map[string]string) error
}

// DefaultErrorCode is reported when an error carries no code.
const DefaultErrorCode = "unknown_error"

// ErrorCode maps err onto the error_code of a failure response.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, core.ErrAuthenticityFailed):
		return "authenticity_failed"
	case errors.Is(err, core.ErrStateVerificationFailed):
		return "state_verification_failed"
	case errors.Is(err, core.ErrFrozenStateIncompatible):
		return "frozen_state_incompatible"
	case errors.Is(err, core.ErrRegistrationFailed):
		return "registration_failed"
	case errors.Is(err, core.ErrUnknownReason):
		return "unknown_reason"
	case core.IsPolicyViolation(err):
		return "chain_not_allowed"
	case core.IsTimeout(err):
		return "request_timeout"
	case core.IsConfigurationError(err):
		return "configuration_error"
	}

	var coded interface{ ErrorCode() int }
	if errors.As(err, &coded) {
		return strconv.Itoa(coded.ErrorCode())
	}
	if core.IsTransportError(err) {
		return "connection_failed"
	}
	return DefaultErrorCode
}

func failureData(err error) map[string]string {
	return map[string]string{
		ParamError:     err.Error(),
		ParamErrorCode: ErrorCode(err),
	}
}
