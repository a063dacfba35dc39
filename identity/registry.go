package identity

import (
	"fmt"
	"sync"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/provider"
)

// Registry holds the descriptors known to a process. It is built once at
// start-up and passed to connectors and delegates.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]Descriptor
	order []string
}

// NewRegistry creates a registry holding ds.
func NewRegistry(ds ...Descriptor) (*Registry, error) {
	r := &Registry{byID: make(map[string]Descriptor)}
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds d. Identifiers are unique.
func (r *Registry) Register(d Descriptor) error {
	if d == nil || d.Identifier() == "" {
		return fmt.Errorf("register identity provider: %w: empty identifier", core.ErrInvalidConfiguration)
	}
	if w3, ok := d.(*Web3Descriptor); ok && len(w3.Channels) == 0 {
		return fmt.Errorf("register %s: %w", d.Identifier(), core.ErrChannelDefinitionMissing)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[d.Identifier()]; ok {
		return fmt.Errorf("register %s: %w: duplicate identifier", d.Identifier(), core.ErrInvalidConfiguration)
	}
	r.byID[d.Identifier()] = d
	r.order = append(r.order, d.Identifier())
	return nil
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrIdentityProviderNotFound, id)
	}
	return d, nil
}

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Defaults carries the runtime the default descriptors bind their channels
// to. Relay channels are declared only when Relay has a publisher.
type Defaults struct {
	Env            *channel.Environment
	Relay          channel.RelayTransport
	RelayConfig    channel.RelayConfig
	ChannelOptions []channel.Option
}

func (d Defaults) relay(deepLink string) []channel.Factory {
	if d.Relay.Publisher == nil || d.Relay.Subscriber == nil {
		return nil
	}
	cfg := d.RelayConfig
	cfg.DeepLink = deepLink
	return []channel.Factory{channel.RelayFactory(d.Relay, cfg, d.ChannelOptions...)}
}

// DefaultRegistry registers the built in wallets and OAuth vendors.
func DefaultRegistry(d Defaults) *Registry {
	metamask := &Web3Descriptor{
		ID: "metamask",
		Channels: append(
			[]channel.Factory{channel.InjectedFactory(d.Env, "ethereum", d.ChannelOptions...)},
			d.relay("metamask://wc?uri=")...,
		),
		Verifier: provider.FlagVerifier{Require: []string{"isMetaMask"}, Exclude: []string{"isCoinbaseWallet", "isBraveWallet"}},
		Metadata: Metadata{Name: "MetaMask", Homepage: "https://metamask.io", DeepLink: "metamask://wc?uri="},
	}
	coinbase := &Web3Descriptor{
		ID: "coinbase",
		Channels: append(
			[]channel.Factory{channel.InjectedFactory(d.Env, "coinbaseWalletExtension", d.ChannelOptions...)},
			d.relay("cbwallet://wc?uri=")...,
		),
		Verifier: provider.FlagVerifier{Require: []string{"isCoinbaseWallet"}},
		Metadata: Metadata{Name: "Coinbase Wallet", Homepage: "https://www.coinbase.com/wallet", DeepLink: "cbwallet://wc?uri="},
	}

	ds := []Descriptor{metamask, coinbase}
	if relay := d.relay(""); len(relay) > 0 {
		ds = append(ds, &Web3Descriptor{
			ID:       "walletconnect",
			Channels: relay,
			Metadata: Metadata{Name: "WalletConnect", Homepage: "https://walletconnect.com"},
		})
	}
	ds = append(ds,
		&Web2Descriptor{ID: "google", Vendor: "google", Scopes: []string{"openid", "email", "profile"}, Metadata: Metadata{Name: "Google"}},
		&Web2Descriptor{ID: "github", Vendor: "github", Scopes: []string{"read:user", "user:email"}, Metadata: Metadata{Name: "GitHub"}},
		&Web2Descriptor{ID: "discord", Vendor: "discord", Scopes: []string{"identify", "email"}, Metadata: Metadata{Name: "Discord"}},
	)

	r, err := NewRegistry(ds...)
	if err != nil {
		panic(err)
	}
	return r
}
