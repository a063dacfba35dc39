// Package connector resolves and drives one Channel, Provider and Adapter
// triple for an identity provider.
package connector

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/layer-3/passport/adapter"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/provider"
)

// ConnectOptions tune Connect.
type ConnectOptions struct {
	// ProviderID re-binds the connector to another identity provider before
	// connecting.
	ProviderID string

	channel.ConnectOptions
}

// Connector holds at most one live triple.
type Connector struct {
	registry *identity.Registry
	log      logrus.FieldLogger

	providerID      string
	channelInst     channel.Channel
	channelFactory  *channel.Factory
	providerInst    *provider.Provider
	providerFactory ProviderFactory
	adapterInst     adapter.ChainAdapter
	adapterFactory  adapter.Factory
	filter          core.ConnectionFilter
	stored          *core.CurrentSession
	platform        provider.Platform

	mu         sync.RWMutex
	descriptor *identity.Web3Descriptor
	ch         channel.Channel
	prov       *provider.Provider
	adp        adapter.ChainAdapter

	connects  singleflight.Group
	connectMu sync.Mutex
}

// New resolves the triple. Missing definitions fail here, before any
// connection is attempted.
func New(registry *identity.Registry, opts ...Option) (*Connector, error) {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Connector{registry: registry, log: discard}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Connector) resolve() error {
	var desc *identity.Web3Descriptor
	if c.providerID != "" {
		if c.registry == nil {
			return fmt.Errorf("resolve %s: %w: no registry", c.providerID, core.ErrIdentityProviderNotFound)
		}
		d, err := c.registry.Lookup(c.providerID)
		if err != nil {
			return err
		}
		switch d := d.(type) {
		case *identity.Web3Descriptor:
			desc = d
		case *identity.Web2Descriptor:
			return fmt.Errorf("resolve %s: %w: oauth providers have no channels", d.ID, core.ErrInvalidConfiguration)
		default:
			return fmt.Errorf("resolve %s: %w: unknown descriptor %T", c.providerID, core.ErrInvalidConfiguration, d)
		}
	}

	ch, err := c.resolveChannel(desc)
	if err != nil {
		return err
	}
	prov, err := c.resolveProvider(desc, ch)
	if err != nil {
		return err
	}
	adp, err := c.resolveAdapter(desc, prov)
	if err != nil {
		return err
	}
	prov.Bind(adp)

	c.mu.Lock()
	c.descriptor, c.ch, c.prov, c.adp = desc, prov.Channel(), prov, adp
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"provider":       c.providerID,
		"connector_type": prov.Channel().ConnectorType(),
	}).Debug("connector resolved")
	return nil
}

// storedSession returns the stored session when it was produced by the
// identity provider being resolved.
func (c *Connector) storedSession() *core.CurrentSession {
	if c.stored == nil || len(c.stored.Session) == 0 {
		return nil
	}
	if c.providerID != "" && c.stored.Provider != "" && c.stored.Provider != c.providerID {
		return nil
	}
	return c.stored
}

func (c *Connector) resolveChannel(desc *identity.Web3Descriptor) (channel.Channel, error) {
	switch {
	case c.providerInst != nil:
		return c.providerInst.Channel(), nil
	case c.channelInst != nil:
		return c.channelInst, nil
	case c.channelFactory != nil:
		return c.fromFactory(*c.channelFactory, c.storedSession())
	case desc != nil:
		return c.selectChannel(desc)
	}
	return nil, fmt.Errorf("resolve channel: %w", core.ErrChannelDefinitionMissing)
}

// selectChannel walks the declared factories in order, skipping transports
// the filter excludes. A stored session selects the first factory accepting
// it; otherwise the first admitted factory opens a new session.
func (c *Connector) selectChannel(desc *identity.Web3Descriptor) (channel.Channel, error) {
	var admitted []channel.Factory
	for _, f := range desc.Channels {
		if c.filter.AllowsConnectorType(f.ConnectorType) {
			admitted = append(admitted, f)
		}
	}
	if len(admitted) == 0 {
		return nil, fmt.Errorf("resolve channel for %s: %w: every transport is filtered out", desc.ID, core.ErrChannelDefinitionMissing)
	}

	if s := c.storedSession(); s != nil {
		for _, f := range admitted {
			if s.ConnectorType != "" && s.ConnectorType != f.ConnectorType {
				continue
			}
			if f.ValidateSession(s.Session) {
				return f.New(s.Session)
			}
		}
		c.log.WithField("provider", desc.ID).Debug("stored session matches no channel, opening a new one")
	}
	return admitted[0].New(nil)
}

func (c *Connector) fromFactory(f channel.Factory, s *core.CurrentSession) (channel.Channel, error) {
	if s != nil && f.ValidateSession(s.Session) {
		return f.New(s.Session)
	}
	return f.New(nil)
}

func (c *Connector) resolveProvider(desc *identity.Web3Descriptor, ch channel.Channel) (*provider.Provider, error) {
	opts := []provider.Option{
		provider.WithFilter(c.filter),
		provider.WithPlatform(c.platform),
		provider.WithLogger(c.log),
	}
	switch {
	case c.providerInst != nil:
		// An explicit provider keeps its own policy unless one was given.
		if !c.filter.IsZero() {
			c.providerInst.SetFilter(c.filter)
		}
		return c.providerInst, nil
	case c.providerFactory != nil:
		return c.providerFactory(ch, opts...), nil
	case desc != nil:
		if desc.Verifier != nil {
			opts = append(opts, provider.WithVerifier(desc.Verifier))
		}
		return provider.New(ch, opts...), nil
	}
	return nil, fmt.Errorf("resolve provider: %w", core.ErrProviderDefinitionMissing)
}

func (c *Connector) resolveAdapter(desc *identity.Web3Descriptor, p *provider.Provider) (adapter.ChainAdapter, error) {
	switch {
	case c.adapterInst != nil:
		return c.adapterInst, nil
	case c.adapterFactory != nil:
		return c.adapterFactory(p), nil
	case desc != nil:
		return desc.AdapterFactory()(p), nil
	}
	return nil, fmt.Errorf("resolve adapter: %w", core.ErrAdapterDefinitionMissing)
}

// Connect brings the triple up and returns the current session. Concurrent
// calls for the same identity provider share one attempt; calls for
// different providers run one after the other. When already connected it
// only re-runs the liveness and chain policy check.
func (c *Connector) Connect(ctx context.Context, opts ConnectOptions) (core.CurrentSession, error) {
	key := opts.ProviderID
	if key == "" {
		key = c.ProviderID()
	}
	v, err, _ := c.connects.Do(key, func() (any, error) {
		c.connectMu.Lock()
		defer c.connectMu.Unlock()
		return c.connect(ctx, opts)
	})
	if err != nil {
		return core.CurrentSession{}, err
	}
	return v.(core.CurrentSession), nil
}

func (c *Connector) connect(ctx context.Context, opts ConnectOptions) (core.CurrentSession, error) {
	if opts.ProviderID != "" && opts.ProviderID != c.ProviderID() {
		if err := c.rebind(ctx, opts.ProviderID); err != nil {
			return core.CurrentSession{}, err
		}
	}

	c.mu.RLock()
	prov, adp := c.prov, c.adp
	c.mu.RUnlock()

	if !adp.IsConnected() {
		if _, err := prov.Connect(ctx, opts.ConnectOptions); err != nil {
			c.log.WithError(err).WithField("provider", c.ProviderID()).Debug("connect failed")
			return core.CurrentSession{}, err
		}
	}
	if _, err := prov.CheckConnection(ctx, true); err != nil {
		return core.CurrentSession{}, err
	}
	return c.FormattedCurrentSession()
}

// rebind resolves another identity provider, dropping explicit overrides.
func (c *Connector) rebind(ctx context.Context, id string) error {
	c.mu.RLock()
	prov := c.prov
	c.mu.RUnlock()
	if prov != nil && prov.IsConnected() {
		_ = prov.Disconnect(ctx)
	}

	c.mu.Lock()
	c.providerID = id
	c.mu.Unlock()
	c.channelInst, c.channelFactory = nil, nil
	c.providerInst, c.providerFactory = nil, nil
	c.adapterInst, c.adapterFactory = nil, nil
	return c.resolve()
}

// Restore reconnects a stored session without prompting the user. It
// reports false when the signer no longer holds the session.
func (c *Connector) Restore(ctx context.Context) (core.CurrentSession, bool, error) {
	if c.storedSession() == nil {
		return core.CurrentSession{}, false, fmt.Errorf("restore: %w", core.ErrInvalidSession)
	}
	ok, _ := c.Channel().CheckSession(ctx)
	if !ok {
		return core.CurrentSession{}, false, nil
	}
	cs, err := c.Connect(ctx, ConnectOptions{})
	if err != nil {
		return core.CurrentSession{}, false, err
	}
	return cs, true, nil
}

// FormattedCurrentSession returns the storable session of the connected
// triple.
func (c *Connector) FormattedCurrentSession() (core.CurrentSession, error) {
	c.mu.RLock()
	ch, prov, adp := c.ch, c.prov, c.adp
	c.mu.RUnlock()

	if adp == nil || !adp.IsConnected() {
		return core.CurrentSession{}, fmt.Errorf("current session: %w", core.ErrConnectionEstablishmentFailed)
	}
	uid := prov.SelectedAccount()
	if uid == "" {
		return core.CurrentSession{}, fmt.Errorf("current session: %w: no account", core.ErrConnectionEstablishmentFailed)
	}
	session, err := ch.SessionForStorage()
	if err != nil {
		return core.CurrentSession{}, fmt.Errorf("current session: %w", err)
	}
	return core.CurrentSession{
		UID:           uid,
		Provider:      c.ProviderID(),
		ConnectorType: ch.ConnectorType(),
		Session:       session,
	}, nil
}

// Disconnect tears the triple down.
func (c *Connector) Disconnect(ctx context.Context) error {
	return c.Provider().Disconnect(ctx)
}

// ProviderID returns the bound identity provider identifier.
func (c *Connector) ProviderID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.descriptor != nil {
		return c.descriptor.ID
	}
	return c.providerID
}

// Descriptor returns the bound descriptor, nil when built from explicit
// definitions only.
func (c *Connector) Descriptor() *identity.Web3Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.descriptor
}

func (c *Connector) Channel() channel.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ch
}

func (c *Connector) Provider() *provider.Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.prov
}

func (c *Connector) Adapter() adapter.ChainAdapter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.adp
}

// IsConnected reports whether the adapter is connected.
func (c *Connector) IsConnected() bool {
	a := c.Adapter()
	return a != nil && a.IsConnected()
}
