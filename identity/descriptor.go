// Package identity declares the identity providers a client can authenticate
// with, as a closed set of descriptor variants kept in an explicit registry.
package identity

import (
	"github.com/layer-3/passport/adapter"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/provider"
)

// Metadata is what a UI needs to present a provider.
type Metadata struct {
	Name     string `json:"name"`
	Icon     string `json:"icon,omitempty"`
	Homepage string `json:"homepage,omitempty"`
	DeepLink string `json:"deep_link,omitempty"`
}

// Descriptor is implemented by Web3Descriptor and Web2Descriptor only.
type Descriptor interface {
	Identifier() string
	WebVersion() core.WebVersion
	Meta() Metadata

	descriptor()
}

// Web3Descriptor declares a wallet brand.
type Web3Descriptor struct {
	ID string

	// Channels lists the transports in order of preference.
	Channels []channel.Factory

	// Verifier checks the brand of an injected signer. Nil accepts any.
	Verifier provider.SessionVerifier

	// NewAdapter builds the chain adapter. Nil selects the EVM adapter.
	NewAdapter adapter.Factory

	Metadata Metadata
}

func (d *Web3Descriptor) Identifier() string          { return d.ID }
func (d *Web3Descriptor) WebVersion() core.WebVersion { return core.Decentralized }
func (d *Web3Descriptor) Meta() Metadata              { return d.Metadata }
func (d *Web3Descriptor) descriptor()                 {}

// AdapterFactory returns NewAdapter or the EVM adapter factory.
func (d *Web3Descriptor) AdapterFactory() adapter.Factory {
	if d.NewAdapter != nil {
		return d.NewAdapter
	}
	return adapter.EVMFactory()
}

// Web2Descriptor declares an OAuth vendor.
type Web2Descriptor struct {
	ID string

	// Vendor is the backend key of the OAuth vendor.
	Vendor string
	Scopes []string

	Metadata Metadata
}

func (d *Web2Descriptor) Identifier() string          { return d.ID }
func (d *Web2Descriptor) WebVersion() core.WebVersion { return core.Centralized }
func (d *Web2Descriptor) Meta() Metadata              { return d.Metadata }
func (d *Web2Descriptor) descriptor()                 {}
