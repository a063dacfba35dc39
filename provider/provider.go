// Package provider adds chain and account policy on top of a channel.
package provider

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
)

// Deriver reads accounts and the chain id through the adapter bound to a
// provider, so the provider never trusts channel payloads verbatim.
type Deriver interface {
	RequestAccounts(ctx context.Context) ([]string, error)
	GetChainID(ctx context.Context) (core.ChainID, error)
}

// ConnectResult carries the policy checked values observed on connect.
type ConnectResult struct {
	Accounts []string
	ChainID  core.ChainID
}

// Update is a policy checked signer event delivered after connect.
type Update struct {
	Kind     channel.EventKind
	Accounts []string
	ChainID  core.ChainID
	Err      error
}

// Option configures a Provider.
type Option func(*Provider)

// WithVerifier sets the brand verifier applied to injected channels.
func WithVerifier(v SessionVerifier) Option {
	return func(p *Provider) { p.verifier = v }
}

// WithPlatform sets the client platform.
func WithPlatform(pl Platform) Option {
	return func(p *Provider) { p.platform = pl }
}

// WithChains replaces core.KnownChains as the chain metadata source.
func WithChains(set core.ChainSet) Option {
	return func(p *Provider) { p.chains = set }
}

// WithFilter applies a connection filter at construction.
func WithFilter(f core.ConnectionFilter) Option {
	return func(p *Provider) { p.SetFilter(f) }
}

// WithLogger sets the provider logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// Provider wraps a channel with account tracking and chain policy.
type Provider struct {
	ch       channel.Channel
	verifier SessionVerifier
	chains   core.ChainSet
	platform Platform
	log      logrus.FieldLogger

	mu         sync.RWMutex
	deriver    Deriver
	accounts   []string
	chainID    core.ChainID
	allowed    []core.ChainID
	restricted []core.ChainID

	updates chan Update
	stop    chan struct{}
}

// New creates a provider over ch.
func New(ch channel.Channel, opts ...Option) *Provider {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	p := &Provider{
		ch:      ch,
		chains:  core.KnownChains,
		log:     discard,
		updates: make(chan Update, 16),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithField("connector_type", ch.ConnectorType())
	return p
}

// Bind attaches the adapter used to derive accounts and chain id.
func (p *Provider) Bind(d Deriver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deriver = d
}

// Channel returns the wrapped channel.
func (p *Provider) Channel() channel.Channel {
	return p.ch
}

// SetFilter expands the filter's chain groups into concrete chain ids.
func (p *Provider) SetFilter(f core.ConnectionFilter) {
	allowed := core.ExpandChains(p.chains, f.AllowedChains)
	restricted := core.ExpandChains(p.chains, f.RestrictedChains)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowed = allowed
	p.restricted = restricted
}

// VerifyConnectedChain applies the restriction list first, then the
// allow-list. Without a filter every chain passes.
func (p *Provider) VerifyConnectedChain(id core.ChainID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.restricted) > 0 && slices.Contains(p.restricted, id) {
		return &core.ConnectedChainNotAllowedError{ChainID: id}
	}
	if len(p.allowed) > 0 && !slices.Contains(p.allowed, id) {
		return &core.ConnectedChainNotAllowedError{ChainID: id}
	}
	return nil
}

// Connect connects the channel, verifies the signer brand, derives accounts
// and chain through the bound adapter and enforces chain policy. Any failure
// leaves the channel disconnected.
func (p *Provider) Connect(ctx context.Context, opts channel.ConnectOptions) (ConnectResult, error) {
	p.mu.RLock()
	deriver := p.deriver
	p.mu.RUnlock()
	if deriver == nil {
		return ConnectResult{}, fmt.Errorf("provider connect: %w", core.ErrAdapterDefinitionMissing)
	}

	if err := p.ch.Connect(ctx, opts); err != nil {
		return ConnectResult{}, err
	}

	res, err := p.establish(ctx, deriver)
	if err != nil {
		p.log.WithError(err).Debug("provider connect rejected")
		_ = p.ch.Disconnect(ctx)
		return ConnectResult{}, err
	}

	p.mu.Lock()
	p.accounts = res.Accounts
	p.chainID = res.ChainID
	if p.stop == nil {
		p.stop = make(chan struct{})
		go p.watch(p.stop)
	}
	p.mu.Unlock()

	p.log.WithFields(logrus.Fields{"chain_id": res.ChainID, "accounts": len(res.Accounts)}).Debug("provider connected")
	return res, nil
}

func (p *Provider) establish(ctx context.Context, d Deriver) (ConnectResult, error) {
	if p.verifier != nil && p.ch.ConnectorType() == core.ConnectorInjected {
		if err := p.verifier.VerifySession(ctx, p.ch.Handle()); err != nil {
			return ConnectResult{}, err
		}
	}

	accounts, err := d.RequestAccounts(ctx)
	if err != nil {
		return ConnectResult{}, err
	}
	if len(accounts) == 0 {
		return ConnectResult{}, fmt.Errorf("%w: signer returned no accounts", core.ErrConnectionEstablishmentFailed)
	}
	chainID, err := d.GetChainID(ctx)
	if err != nil {
		return ConnectResult{}, err
	}
	if err := p.VerifyConnectedChain(chainID); err != nil {
		return ConnectResult{}, err
	}
	return ConnectResult{Accounts: accounts, ChainID: chainID}, nil
}

// watch turns channel events into policy checked updates.
func (p *Provider) watch(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case ev := <-p.ch.Events():
			p.onEvent(ev)
		}
	}
}

func (p *Provider) onEvent(ev channel.Event) {
	u := Update{Kind: ev.Kind, Accounts: ev.Accounts, ChainID: ev.ChainID, Err: ev.Err}

	switch ev.Kind {
	case channel.EventConnect:
		return
	case channel.EventChainChanged:
		if err := p.VerifyConnectedChain(ev.ChainID); err != nil {
			u.Err = err
			_ = p.ch.Disconnect(context.Background())
			break
		}
		p.mu.Lock()
		p.chainID = ev.ChainID
		p.mu.Unlock()
	case channel.EventAccountsChanged:
		p.mu.Lock()
		p.accounts = slices.Clone(ev.Accounts)
		p.mu.Unlock()
	case channel.EventDisconnect:
		p.mu.Lock()
		p.accounts = nil
		p.mu.Unlock()
	}

	p.log.WithFields(logrus.Fields{"event": ev.Kind, "chain_id": u.ChainID}).Debug("provider update")
	select {
	case p.updates <- u:
	default:
		p.log.WithField("event", ev.Kind).Warn("provider update dropped, no consumer")
	}
}

// Updates delivers signer events observed after connect.
func (p *Provider) Updates() <-chan Update {
	return p.updates
}

// Request forwards req to the channel under its time bound.
func (p *Provider) Request(ctx context.Context, req core.RPCRequest) (json.RawMessage, error) {
	return p.ch.Request(ctx, req, 0)
}

// CheckConnection confirms liveness with a ping and re-validates the chain
// policy. With raise set the failure is returned, otherwise it is only
// reported through the boolean.
func (p *Provider) CheckConnection(ctx context.Context, raise bool) (bool, error) {
	err := p.checkConnection(ctx)
	if err == nil {
		return true, nil
	}
	p.log.WithError(err).Debug("connection check failed")
	if raise {
		return false, err
	}
	return false, nil
}

func (p *Provider) checkConnection(ctx context.Context) error {
	if !p.ch.IsConnected() {
		return fmt.Errorf("check connection: %w", core.ErrProviderConnection)
	}
	if !p.ch.Ping(ctx, channel.DefaultPingMethod) {
		return fmt.Errorf("check connection: signer did not answer ping: %w", core.ErrProviderConnection)
	}

	p.mu.RLock()
	d := p.deriver
	p.mu.RUnlock()
	if d == nil {
		return fmt.Errorf("check connection: %w", core.ErrAdapterDefinitionMissing)
	}
	id, err := d.GetChainID(ctx)
	if err != nil {
		return err
	}
	if err := p.VerifyConnectedChain(id); err != nil {
		_ = p.ch.Disconnect(ctx)
		return err
	}
	p.mu.Lock()
	p.chainID = id
	p.mu.Unlock()
	return nil
}

// IsConnected reports whether the channel is connected.
func (p *Provider) IsConnected() bool {
	return p.ch.IsConnected()
}

type deepLinker interface {
	DeepLink() string
}

// IsDeepLinkPlantable reports whether an app switch should be preferred
// over a QR code: a relay channel with a deep link on a mobile browser.
func (p *Provider) IsDeepLinkPlantable() bool {
	if p.ch.ConnectorType() != core.ConnectorRelay || p.platform != PlatformMobileWeb {
		return false
	}
	dl, ok := p.ch.(deepLinker)
	return ok && dl.DeepLink() != ""
}

// Disconnect stops event delivery and disconnects the channel.
func (p *Provider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
	p.accounts = nil
	p.mu.Unlock()
	return p.ch.Disconnect(ctx)
}

// Accounts returns the accounts observed on connect or on the last change.
func (p *Provider) Accounts() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.accounts)
}

// SelectedAccount returns the first account, or an empty string.
func (p *Provider) SelectedAccount() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.accounts) == 0 {
		return ""
	}
	return p.accounts[0]
}

// ChainID returns the last policy checked chain id.
func (p *Provider) ChainID() core.ChainID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chainID
}

// Chain returns metadata of the connected chain.
func (p *Provider) Chain() (core.Chain, bool) {
	id := p.ChainID()
	c, ok := p.chains[id]
	return c, ok
}

// Chainset returns metadata of every known chain the filter admits,
// ordered by chain id.
func (p *Provider) Chainset() []core.Chain {
	var out []core.Chain
	for id, c := range p.chains {
		if p.VerifyConnectedChain(id) == nil {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b core.Chain) int { return cmp.Compare(a.ID, b.ID) })
	return out
}
