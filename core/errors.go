package core

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrChannelDefinitionMissing  = errors.New("channel definition missing")
	ErrProviderDefinitionMissing = errors.New("provider definition missing")
	ErrAdapterDefinitionMissing  = errors.New("adapter definition missing")
	ErrIdentityProviderNotFound  = errors.New("identity provider not found")
	ErrProjectIdentifierMissing  = errors.New("project identifier missing")
	ErrInvalidConfiguration      = errors.New("invalid configuration")
)

// Transport errors
var (
	ErrChannelConnectionEstablishmentFailed = errors.New("channel connection establishment failed")
	ErrProviderConnection                   = errors.New("provider is not connected")
	ErrIncompatiblePlatform                 = errors.New("incompatible platform")
	ErrConnectionEstablishmentFailed        = errors.New("connection establishment failed")
	ErrSessionExpired                       = errors.New("session has expired")
	ErrInvalidSession                       = errors.New("invalid session")
)

// ErrProviderRequestTimeout is produced only by the time-bound request
// wrapper, never by a transport.
var ErrProviderRequestTimeout = errors.New("provider request timed out")

// ErrConnectedChainNotAllowed matches any *ConnectedChainNotAllowedError.
var ErrConnectedChainNotAllowed = errors.New("connected chain not allowed")

// Protocol and state errors
var (
	ErrFrozenStateIncompatible = errors.New("frozen state incompatible")
	ErrStateVerificationFailed = errors.New("state verification failed")
	ErrAuthenticityFailed      = errors.New("authenticity verification failed")
	ErrUnknownReason           = errors.New("authentication failed for unknown reason")
	ErrRegistrationFailed      = errors.New("registration failed")
)

// Backend errors
var (
	ErrTokenExpired     = errors.New("token has expired")
	ErrTokenInvalidated = errors.New("token has been invalidated")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidToken     = errors.New("invalid token")
	ErrInvalidChallenge = errors.New("invalid challenge")
	ErrInvalidAPIKey    = errors.New("invalid api key")
	ErrProjectNotFound  = errors.New("project not found")
	ErrUnknownVendor    = errors.New("unknown oauth vendor")
)

// ConnectedChainNotAllowedError is returned when a provider observes a chain
// rejected by its connection filter.
type ConnectedChainNotAllowedError struct {
	ChainID ChainID
}

func (e *ConnectedChainNotAllowedError) Error() string {
	return fmt.Sprintf("connected chain %s is not allowed", e.ChainID)
}

func (e *ConnectedChainNotAllowedError) Is(target error) bool {
	return target == ErrConnectedChainNotAllowed
}

// IsConfigurationError reports whether err stems from a missing or invalid
// definition. These are never retried.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrChannelDefinitionMissing) ||
		errors.Is(err, ErrProviderDefinitionMissing) ||
		errors.Is(err, ErrAdapterDefinitionMissing) ||
		errors.Is(err, ErrIdentityProviderNotFound) ||
		errors.Is(err, ErrProjectIdentifierMissing) ||
		errors.Is(err, ErrInvalidConfiguration)
}

// IsTransportError reports whether err is a transport failure.
func IsTransportError(err error) bool {
	return errors.Is(err, ErrProviderConnection) ||
		errors.Is(err, ErrChannelConnectionEstablishmentFailed) ||
		errors.Is(err, ErrIncompatiblePlatform) ||
		errors.Is(err, ErrConnectionEstablishmentFailed)
}

// IsTimeout reports whether err was produced by the request time bound.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrProviderRequestTimeout)
}

// IsPolicyViolation reports whether err is a chain policy violation.
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrConnectedChainNotAllowed)
}
