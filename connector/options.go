package connector

import (
	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport/adapter"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/provider"
)

// ProviderFactory builds a provider over a resolved channel.
type ProviderFactory func(ch channel.Channel, opts ...provider.Option) *provider.Provider

// Option configures a Connector.
type Option func(*Connector)

// WithIdentityProvider binds the descriptor registered under id.
func WithIdentityProvider(id string) Option {
	return func(c *Connector) { c.providerID = id }
}

// WithChannel uses an already constructed channel.
func WithChannel(ch channel.Channel) Option {
	return func(c *Connector) { c.channelInst = ch }
}

// WithChannelFactory builds the channel from f instead of the descriptor.
func WithChannelFactory(f channel.Factory) Option {
	return func(c *Connector) { c.channelFactory = &f }
}

// WithProvider uses an already constructed provider and its channel.
func WithProvider(p *provider.Provider) Option {
	return func(c *Connector) { c.providerInst = p }
}

// WithProviderFactory builds the provider from f instead of the descriptor.
func WithProviderFactory(f ProviderFactory) Option {
	return func(c *Connector) { c.providerFactory = f }
}

// WithAdapter uses an already constructed adapter.
func WithAdapter(a adapter.ChainAdapter) Option {
	return func(c *Connector) { c.adapterInst = a }
}

// WithAdapterFactory builds the adapter from f instead of the descriptor.
func WithAdapterFactory(f adapter.Factory) Option {
	return func(c *Connector) { c.adapterFactory = f }
}

// WithFilter sets the connection filter.
func WithFilter(f core.ConnectionFilter) Option {
	return func(c *Connector) { c.filter = f }
}

// WithStoredSession resumes a previously stored session.
func WithStoredSession(s core.CurrentSession) Option {
	return func(c *Connector) { c.stored = &s }
}

// WithPlatform sets the client platform handed to providers.
func WithPlatform(p provider.Platform) Option {
	return func(c *Connector) { c.platform = p }
}

// WithLogger sets the connector logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Connector) {
		if l != nil {
			c.log = l
		}
	}
}
