package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ChainID identifies a chain in decimal form ("1", "137").
type ChainID string

// ConnectorType names a transport family.
type ConnectorType string

const (
	ConnectorInjected ConnectorType = "injected"
	ConnectorRelay    ConnectorType = "relay"
	ConnectorOAuth    ConnectorType = "oauth"
)

// WebVersion separates centralized (OAuth) from decentralized (wallet)
// identity providers.
type WebVersion string

const (
	Centralized   WebVersion = "web2"
	Decentralized WebVersion = "web3"
)

// Session is the transport specific payload owned by a channel. The core
// never looks inside it.
type Session = json.RawMessage

// CurrentSession is the normalized, storable form of a connected session.
type CurrentSession struct {
	UID           string          `json:"uid"`
	Provider      string          `json:"provider"`
	ConnectorType ConnectorType   `json:"connector_type"`
	Session       json.RawMessage `json:"session"`
}

// ConnectionFilter restricts which chains and transports may be used.
// Chains may be given as chain ids or as chain group identifiers.
type ConnectionFilter struct {
	AllowedChains         []string        `json:"allowed_chains,omitempty"`
	RestrictedChains      []string        `json:"restricted_chains,omitempty"`
	AllowedConnectorTypes []ConnectorType `json:"allowed_connector_types,omitempty"`
}

// IsZero reports whether the filter admits everything.
func (f ConnectionFilter) IsZero() bool {
	return len(f.AllowedChains) == 0 && len(f.RestrictedChains) == 0 && len(f.AllowedConnectorTypes) == 0
}

// AllowsConnectorType reports whether t passes the connector type allow-list.
// An empty allow-list allows every type.
func (f ConnectionFilter) AllowsConnectorType(t ConnectorType) bool {
	if len(f.AllowedConnectorTypes) == 0 {
		return true
	}
	return slices.Contains(f.AllowedConnectorTypes, t)
}

// RPCRequest is a JSON-RPC shaped call.
type RPCRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// RPCError is a JSON-RPC error returned by a signer. It satisfies the
// go-ethereum rpc.Error interface.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (e *RPCError) ErrorCode() int {
	return e.Code
}

// Tokens are issued by the backend after a successful registration.
type Tokens struct {
	Refresh string `json:"refresh"`
	Access  string `json:"access"`
}

// User is the backend user record as seen by the client.
type User struct {
	UID      string `json:"uid"`
	Provider string `json:"provider"`
}

// AuthSession is a backend session behind a pair of tokens.
type AuthSession struct {
	ID            string
	UID           string
	Provider      string
	IssuedAt      time.Time
	RefreshExpiry time.Time
	AccessExpiry  time.Time
	RefreshID     string
}

// Challenge is a nonce issued to a wallet address; the wallet proves
// ownership by signing ChallengeMessage(nonce).
type Challenge struct {
	ID        string
	Address   string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ChallengeMessage is the text a wallet signs with personal_sign.
func ChallengeMessage(nonce string) string {
	return "Sign in with your wallet. Nonce: " + nonce
}
