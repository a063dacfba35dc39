// Package app is the entry point of an application: it starts and resumes
// authentication attempts and hands their outcome to registered callbacks.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/auth"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/connector"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
	"github.com/layer-3/passport/provider"
)

// View is what the UI shows while a wallet connects.
type View struct {
	ProviderID string
	// URI is a pairing URI to render as a QR code, or a deep link to open
	// when DeepLink is set.
	URI      string
	DeepLink bool
}

// Mounter renders authentication UI.
type Mounter interface {
	Mount(ctx context.Context, v View) error
	Unmount(ctx context.Context) error
}

// Result is a successful authentication.
type Result struct {
	Tokens  core.Tokens
	User    core.User
	Session *core.CurrentSession
}

// Failure is a failed authentication.
type Failure struct {
	Error string
	Code  string
}

// Option configures a Frame.
type Option func(*Frame)

// WithBackend sets the backend used for registration and challenges.
func WithBackend(b ports.Backend) Option {
	return func(f *Frame) { f.backend = b }
}

// WithEventPublisher publishes terminal outcomes.
func WithEventPublisher(p ports.EventPublisher) Option {
	return func(f *Frame) { f.events = p }
}

// WithMounter sets the UI shown while a wallet connects.
func WithMounter(m Mounter) Option {
	return func(f *Frame) { f.mounter = m }
}

// WithFilter restricts the chains and transports of wallet attempts.
func WithFilter(fl core.ConnectionFilter) Option {
	return func(f *Frame) { f.filter = fl }
}

// WithPlatform sets the client platform used for deep links.
func WithPlatform(p provider.Platform) Option {
	return func(f *Frame) { f.platform = p }
}

// WithChallengeSigning makes wallets sign a backend challenge before
// registration.
func WithChallengeSigning() Option {
	return func(f *Frame) { f.signChallenge = true }
}

// WithDelegateOptions passes options to every delegate the frame creates.
func WithDelegateOptions(opts ...auth.Option) Option {
	return func(f *Frame) { f.delegateOpts = append(f.delegateOpts, opts...) }
}

// WithLogger sets the frame logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(f *Frame) {
		if l != nil {
			f.log = l
		}
	}
}

// Frame starts authentication attempts and dispatches their outcome.
type Frame struct {
	storage       passport.Storage
	registry      *identity.Registry
	backend       ports.Backend
	events        ports.EventPublisher
	mounter       Mounter
	filter        core.ConnectionFilter
	platform      provider.Platform
	signChallenge bool
	delegateOpts  []auth.Option
	log           logrus.FieldLogger

	mu        sync.Mutex
	onSuccess []func(Result)
	onFailure []func(Failure)
	race      *ConnectionRace
	winner    *Entry
}

// NewFrame creates a frame.
func NewFrame(storage passport.Storage, registry *identity.Registry, opts ...Option) *Frame {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	f := &Frame{storage: storage, registry: registry, log: discard}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// OnSuccess registers fn for successful outcomes.
func (f *Frame) OnSuccess(fn func(Result)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSuccess = append(f.onSuccess, fn)
}

// OnFailure registers fn for failed outcomes.
func (f *Frame) OnFailure(fn func(Failure)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFailure = append(f.onFailure, fn)
}

// Race returns the connection race of the last wallet attempt.
func (f *Frame) Race() *ConnectionRace {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.race
}

func (f *Frame) newDelegate(ctx context.Context) *auth.Delegate {
	opts := append([]auth.Option{
		auth.WithBackend(f.backend),
		auth.WithLogger(f.log),
	}, f.delegateOpts...)
	opts = append(opts, auth.WithCallback(func(msg core.RespondMessage) { f.dispatch(ctx, msg) }))
	return auth.NewDelegate(f.storage, f.registry, opts...)
}

// StartAuthentication starts an attempt with the identity provider id.
// OAuth providers navigate away; wallets connect in page and the call
// returns once the outcome was delivered to the callbacks.
func (f *Frame) StartAuthentication(ctx context.Context, providerID string, params map[string]string) error {
	if _, err := f.registry.Lookup(providerID); err != nil {
		return err
	}

	args := map[string]string{auth.ParamProvider: providerID}
	for k, v := range params {
		args[k] = v
	}

	d := f.newDelegate(ctx)
	if err := d.Clean(ctx); err != nil {
		return err
	}
	if err := d.CaptureData(ctx, args); err != nil {
		return err
	}
	if d.Responded() {
		return nil
	}

	if r, ok := d.Resolver().(*auth.Web3Resolver); ok {
		return f.connectWallet(ctx, r)
	}
	return nil
}

// Resume continues the attempt frozen before a navigation, with query the
// parameters of the page it returned to.
func (f *Frame) Resume(ctx context.Context, query map[string]string) error {
	d := f.newDelegate(ctx)
	if err := d.FromFrozenState(ctx); err != nil {
		if errors.Is(err, passport.ErrKeyNotFound) {
			return fmt.Errorf("resume: no attempt in progress: %w", err)
		}
		return d.Fail(ctx, err)
	}

	check := make(map[string]string)
	for _, k := range []string{auth.ParamProvider, auth.ParamProjectIdentifier, auth.ParamConnectorType} {
		if v, ok := query[k]; ok {
			check[k] = v
		}
	}
	if !d.VerifyStates(check) {
		return d.Fail(ctx, core.ErrStateVerificationFailed)
	}
	return d.CaptureData(ctx, query)
}

// connectWallet brings up one connector per declared transport and lets
// the first connection win. Losers are disconnected.
func (f *Frame) connectWallet(ctx context.Context, r *auth.Web3Resolver) error {
	desc := r.Descriptor()

	var connectors []*connector.Connector
	var errs []error
	for _, factory := range desc.Channels {
		if !f.filter.AllowsConnectorType(factory.ConnectorType) {
			continue
		}
		c, err := connector.New(f.registry,
			connector.WithIdentityProvider(desc.ID),
			connector.WithChannelFactory(factory),
			connector.WithFilter(f.filter),
			connector.WithPlatform(f.platform),
			connector.WithLogger(f.log),
		)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		connectors = append(connectors, c)
	}
	if len(connectors) == 0 {
		errs = append(errs, fmt.Errorf("%w: no admitted transport", core.ErrChannelDefinitionMissing))
		return r.OnAuthenticationRedirect(ctx, auth.ConnectOutcome{Err: errors.Join(errs...)})
	}

	race := NewConnectionRace(len(connectors))
	f.mu.Lock()
	f.race = race
	f.mu.Unlock()

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, c := range connectors {
		go func() {
			cs, err := c.Connect(raceCtx, connector.ConnectOptions{ConnectOptions: channel.ConnectOptions{
				OnDisplayURI: func(uri string) { f.display(raceCtx, desc, c, uri) },
			}})
			if err != nil {
				race.Fail(err)
				return
			}
			if !race.Offer(Entry{Connector: c, Session: cs}) {
				f.log.WithField("connector_type", cs.ConnectorType).Debug("connection lost the race, disconnecting")
				_ = c.Disconnect(context.Background())
			}
		}()
	}

	select {
	case <-race.Done():
	case <-ctx.Done():
		cancel()
		race.Abandon(ctx.Err())
		// A connection may have been offered just before cancellation.
		for _, c := range connectors {
			_ = c.Disconnect(context.WithoutCancel(ctx))
		}
		return r.OnAuthenticationRedirect(ctx, auth.ConnectOutcome{Err: ctx.Err()})
	}
	cancel()

	winner, ok := race.Winner()
	if !ok {
		return r.OnAuthenticationRedirect(ctx, auth.ConnectOutcome{Err: race.Err()})
	}
	for _, c := range connectors {
		if c != winner.Connector {
			_ = c.Disconnect(ctx)
		}
	}
	f.mu.Lock()
	f.winner = &winner
	f.mu.Unlock()
	return r.OnAuthenticationRedirect(ctx, f.outcome(ctx, winner))
}

func (f *Frame) outcome(ctx context.Context, e Entry) auth.ConnectOutcome {
	p := e.Connector.Provider()
	out := auth.ConnectOutcome{
		Accounts: p.Accounts(),
		ChainID:  p.ChainID(),
		Session:  e.Session,
	}
	if !f.signChallenge || f.backend == nil {
		return out
	}

	ch, err := f.backend.Challenge(ctx, e.Session.UID)
	if err != nil {
		return auth.ConnectOutcome{Err: fmt.Errorf("challenge: %w", err)}
	}
	sig, err := e.Connector.Adapter().SignPersonalMessage(ctx, []byte(ch.Message), e.Session.UID)
	if err != nil {
		return auth.ConnectOutcome{Err: err}
	}
	out.Challenge, out.Signature = ch.Token, sig
	return out
}

// display mounts a QR code, or a deep link when the transport can plant one.
func (f *Frame) display(ctx context.Context, desc *identity.Web3Descriptor, c *connector.Connector, uri string) {
	if f.mounter == nil {
		return
	}
	v := View{ProviderID: desc.ID, URI: uri}
	if c.Provider().IsDeepLinkPlantable() {
		if dl, ok := c.Channel().(interface{ DeepLink() string }); ok {
			v.URI = dl.DeepLink() + url.QueryEscape(uri)
			v.DeepLink = true
		}
	}
	if err := f.mounter.Mount(ctx, v); err != nil {
		f.log.WithError(err).Warn("mounting connection view")
	}
}

// dispatch turns the terminal respond message into callbacks.
func (f *Frame) dispatch(ctx context.Context, msg core.RespondMessage) {
	ctx = context.WithoutCancel(ctx)
	if f.mounter != nil {
		if err := f.mounter.Unmount(ctx); err != nil {
			f.log.WithError(err).Warn("unmounting connection view")
		}
	}

	f.mu.Lock()
	onSuccess := append(([]func(Result))(nil), f.onSuccess...)
	onFailure := append(([]func(Failure))(nil), f.onFailure...)
	winner := f.winner
	f.winner = nil
	f.mu.Unlock()

	if msg.RespondType != core.RespondSuccess {
		if winner != nil {
			_ = winner.Connector.Disconnect(ctx)
		}
		fail := Failure{Error: msg.Data[auth.ParamError], Code: msg.Data[auth.ParamErrorCode]}
		if f.events != nil {
			if err := f.events.PublishAuthenticationFailed(ctx, msg.Data[auth.ParamProvider], fail.Error); err != nil {
				f.log.WithError(err).Warn("publishing authentication failure")
			}
		}
		for _, fn := range onFailure {
			fn(fail)
		}
		return
	}

	res := Result{
		Tokens: core.Tokens{Refresh: msg.Data["refresh"], Access: msg.Data["access"]},
		User:   core.User{UID: msg.Data["uid"], Provider: msg.Data[auth.ParamProvider]},
	}
	switch {
	case winner != nil:
		res.Session = &winner.Session
	case core.ConnectorType(msg.Data[auth.ParamConnectorType]) == core.ConnectorOAuth:
		res.Session = &core.CurrentSession{
			UID:           res.User.UID,
			Provider:      res.User.Provider,
			ConnectorType: core.ConnectorOAuth,
		}
	}
	if err := passport.SetJSON(ctx, f.storage, passport.KeyUser, res.User, 0); err != nil {
		f.log.WithError(err).Warn("storing user")
	}
	if res.Session != nil {
		if err := passport.SetJSON(ctx, f.storage, passport.KeyCurrentSession, *res.Session, 0); err != nil {
			f.log.WithError(err).Warn("storing current session")
		}
		f.appendIdentity(ctx, *res.Session)
	}
	if f.events != nil {
		if err := f.events.PublishAuthenticated(ctx, res.User); err != nil {
			f.log.WithError(err).Warn("publishing authentication")
		}
	}
	for _, fn := range onSuccess {
		fn(res)
	}
}

// appendIdentity adds cs to the user's linked identities, once per
// provider and uid.
func (f *Frame) appendIdentity(ctx context.Context, cs core.CurrentSession) {
	var ids []core.CurrentSession
	if err := passport.GetJSON(ctx, f.storage, passport.KeyIdentities, &ids); err != nil && !errors.Is(err, passport.ErrKeyNotFound) {
		f.log.WithError(err).Warn("reading identities")
	}
	for _, id := range ids {
		if id.Provider == cs.Provider && id.UID == cs.UID {
			return
		}
	}
	ids = append(ids, cs)
	if err := passport.SetJSON(ctx, f.storage, passport.KeyIdentities, ids, 0); err != nil {
		f.log.WithError(err).Warn("storing identities")
	}
}

// CurrentSession returns the stored current session.
func (f *Frame) CurrentSession(ctx context.Context) (core.CurrentSession, error) {
	var cs core.CurrentSession
	err := passport.GetJSON(ctx, f.storage, passport.KeyCurrentSession, &cs)
	return cs, err
}

// Restore reconnects the stored current session without prompting.
func (f *Frame) Restore(ctx context.Context) (*connector.Connector, error) {
	cs, err := f.CurrentSession(ctx)
	if err != nil {
		return nil, err
	}
	c, err := connector.New(f.registry,
		connector.WithIdentityProvider(cs.Provider),
		connector.WithStoredSession(cs),
		connector.WithFilter(f.filter),
		connector.WithPlatform(f.platform),
		connector.WithLogger(f.log),
	)
	if err != nil {
		return nil, err
	}
	if _, ok, err := c.Restore(ctx); err != nil || !ok {
		if err == nil {
			err = fmt.Errorf("restore %s: %w", cs.Provider, core.ErrSessionExpired)
		}
		return nil, err
	}
	return c, nil
}

// Logout drops the stored user and session.
func (f *Frame) Logout(ctx context.Context) error {
	return f.storage.Delete(ctx, passport.KeyCurrentSession, passport.KeyUser, passport.KeyIdentities)
}
