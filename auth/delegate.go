// Package auth carries an authentication attempt across page navigations:
// the delegate persists and verifies the attempt state, a web2 or web3
// resolver drives it, and a responder delivers the single terminal outcome.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/identity"
	"github.com/layer-3/passport/ports"
)

// scratchKeys are the storage keys of in-flight attempts removed by Clean.
var scratchKeys = []string{
	passport.KeyVerifiers,
	passport.KeyWeb3Address,
	passport.KeyWeb3ChainID,
	passport.KeyWeb3Error,
	passport.KeyWeb3ErrorCode,
	passport.KeyWeb3Session,
	passport.KeyWeb3Guard,
}

// Option configures a Delegate.
type Option func(*Delegate)

// WithBackend sets the REST backend.
func WithBackend(b ports.Backend) Option {
	return func(d *Delegate) { d.backend = b }
}

// WithWindow sets the opener window used by the message strategy.
func WithWindow(w Window) Option {
	return func(d *Delegate) { d.window = w }
}

// WithNavigator sets the navigator used for OAuth redirects and the
// redirect strategy.
func WithNavigator(n Navigator) Option {
	return func(d *Delegate) { d.navigator = n }
}

// WithCallback sets the receiver of the callback strategy.
func WithCallback(fn func(core.RespondMessage)) Option {
	return func(d *Delegate) { d.callback = fn }
}

// WithReturnURL sets where the redirect strategy navigates back to.
func WithReturnURL(u string) Option {
	return func(d *Delegate) { d.returnURL = u }
}

// WithRedirectURI sets the OAuth redirect URI, the page resuming the attempt.
func WithRedirectURI(u string) Option {
	return func(d *Delegate) { d.redirectURI = u }
}

// WithLogger sets the delegate logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Delegate) {
		if l != nil {
			d.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Delegate) { d.now = now }
}

// Delegate owns the state of one authentication attempt.
type Delegate struct {
	storage  passport.Storage
	registry *identity.Registry
	backend  ports.Backend
	log      logrus.FieldLogger
	now      func() time.Time

	window      Window
	navigator   Navigator
	callback    func(core.RespondMessage)
	returnURL   string
	redirectURI string

	mu        sync.Mutex
	attempt   Attempt
	resolver  IdentityResolver
	responder Responder
	strategy  RespondStrategy
	responded bool
	closed    bool
}

// NewDelegate creates a delegate with a fresh attempt.
func NewDelegate(storage passport.Storage, registry *identity.Registry, opts ...Option) *Delegate {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	d := &Delegate{
		storage:  storage,
		registry: registry,
		log:      discard,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.attempt = newAttempt(d.now())
	d.responder = CallbackResponder{Fn: d.callback}
	d.strategy = StrategyCallback
	return d
}

// Init merges args into the attempt state, binds the resolver and the
// respond strategy they select, and freezes the result.
func (d *Delegate) Init(ctx context.Context, args map[string]string) error {
	d.mu.Lock()
	maps.Copy(d.attempt.State, args)
	state := maps.Clone(d.attempt.State)
	d.mu.Unlock()

	if id, ok := args[ParamProvider]; ok {
		if err := d.bindResolver(id); err != nil {
			return err
		}
	}
	_, strategyChanged := args[ParamRespondStrategy]
	_, originChanged := args[ParamTargetOrigin]
	if strategyChanged || originChanged {
		if err := d.bindResponder(RespondStrategy(state[ParamRespondStrategy]), state[ParamTargetOrigin]); err != nil {
			return err
		}
	}

	d.log.WithFields(logrus.Fields{"attempt": d.AttemptID(), "keys": len(args)}).Debug("delegate initialized")
	return d.Freeze(ctx)
}

func (d *Delegate) bindResolver(id string) error {
	if d.registry == nil {
		return fmt.Errorf("bind resolver %q: %w", id, core.ErrIdentityProviderNotFound)
	}
	desc, err := d.registry.Lookup(id)
	if err != nil {
		return err
	}

	var r IdentityResolver
	switch desc := desc.(type) {
	case *identity.Web3Descriptor:
		r = &Web3Resolver{d: d, desc: desc}
	case *identity.Web2Descriptor:
		r = &Web2Resolver{d: d, desc: desc}
	default:
		return fmt.Errorf("bind resolver %q: %w: unknown descriptor %T", id, core.ErrInvalidConfiguration, desc)
	}

	d.mu.Lock()
	d.resolver = r
	d.mu.Unlock()
	return nil
}

func (d *Delegate) bindResponder(strategy RespondStrategy, origin string) error {
	var r Responder
	switch strategy {
	case "", StrategyCallback:
		strategy = StrategyCallback
		r = CallbackResponder{Fn: d.callback}
	case StrategyMessage:
		if d.window == nil {
			return fmt.Errorf("message strategy: %w: no window", core.ErrInvalidConfiguration)
		}
		r = MessageResponder{Window: d.window, TargetOrigin: origin}
	case StrategyRedirect:
		if d.navigator == nil || d.returnURL == "" {
			return fmt.Errorf("redirect strategy: %w: no navigator or return url", core.ErrInvalidConfiguration)
		}
		r = RedirectResponder{Navigator: d.navigator, ReturnURL: d.returnURL}
	default:
		return fmt.Errorf("%w: respond strategy %q", core.ErrInvalidConfiguration, strategy)
	}

	d.mu.Lock()
	d.responder, d.strategy = r, strategy
	d.mu.Unlock()
	return nil
}

// Freeze persists the attempt.
func (d *Delegate) Freeze(ctx context.Context) error {
	d.mu.Lock()
	a := d.attempt.clone()
	d.mu.Unlock()
	if err := passport.SetJSON(ctx, d.storage, passport.KeyFrozenState, a, 0); err != nil {
		return fmt.Errorf("freeze attempt: %w", err)
	}
	return nil
}

// FromFrozenState rehydrates the attempt persisted by Freeze and rebinds its
// resolver and respond strategy. An attempt frozen under another version is
// discarded and core.ErrFrozenStateIncompatible returned; the delegate then
// holds a fresh attempt.
func (d *Delegate) FromFrozenState(ctx context.Context) error {
	var a Attempt
	if err := passport.GetJSON(ctx, d.storage, passport.KeyFrozenState, &a); err != nil {
		if errors.Is(err, passport.ErrInvalidValue) {
			_ = d.storage.Delete(ctx, passport.KeyFrozenState)
			return fmt.Errorf("%w: %w", core.ErrFrozenStateIncompatible, err)
		}
		return err
	}
	if a.Version != AttemptVersion {
		_ = d.storage.Delete(ctx, passport.KeyFrozenState)
		return fmt.Errorf("%w: version %d, want %d", core.ErrFrozenStateIncompatible, a.Version, AttemptVersion)
	}

	d.mu.Lock()
	d.attempt = a.clone()
	state := maps.Clone(d.attempt.State)
	d.mu.Unlock()

	if id := state[ParamProvider]; id != "" {
		if err := d.bindResolver(id); err != nil {
			return err
		}
	}
	if err := d.bindResponder(RespondStrategy(state[ParamRespondStrategy]), state[ParamTargetOrigin]); err != nil {
		return err
	}
	d.log.WithField("attempt", a.ID).Debug("delegate resumed from frozen state")
	return nil
}

// CaptureData runs one resolution pass over args (the redirect query) laid
// over the accumulated state. Failures end the attempt with a failure
// response; the returned error only reports that the response itself could
// not be delivered.
func (d *Delegate) CaptureData(ctx context.Context, args map[string]string) error {
	data := d.State()
	maps.Copy(data, args)

	if ident := data[ParamProjectIdentifier]; ident != "" && d.backend != nil {
		if err := d.backend.VerifyProjectIdentifier(ctx, ident); err != nil {
			return d.Fail(ctx, err)
		}
		if err := d.storage.Set(ctx, passport.KeyProjectIdentifier, ident, 0); err != nil {
			return d.Fail(ctx, err)
		}
	}

	if err := d.Init(ctx, args); err != nil {
		return d.Fail(ctx, err)
	}

	r := d.Resolver()
	if r == nil {
		return d.Fail(ctx, fmt.Errorf("capture: %w: no provider bound", core.ErrIdentityProviderNotFound))
	}
	if err := r.CaptureURI(ctx, data); err != nil {
		return d.Fail(ctx, err)
	}
	return nil
}

// VerifyStates reports whether every non generated key of states is stored
// with a deeply equal value.
func (d *Delegate) VerifyStates(states map[string]string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for k, v := range states {
		if _, skip := generatedKeys[k]; skip {
			continue
		}
		stored, ok := d.attempt.State[k]
		if !ok || !equalValues(stored, v) {
			return false
		}
	}
	return true
}

// equalValues compares JSON encoded values structurally and anything else
// as plain strings.
func equalValues(a, b string) bool {
	if a == b {
		return true
	}
	var va, vb any
	if json.Unmarshal([]byte(a), &va) != nil || json.Unmarshal([]byte(b), &vb) != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// Clean drops the redirect parameters from the state and removes the
// scratch keys of in-flight attempts. Cleaning twice is a no-op.
func (d *Delegate) Clean(ctx context.Context) error {
	d.mu.Lock()
	for _, k := range QueryParams {
		delete(d.attempt.State, k)
	}
	d.mu.Unlock()

	if err := d.storage.Delete(ctx, scratchKeys...); err != nil {
		return fmt.Errorf("clean: %w", err)
	}
	return d.Freeze(ctx)
}

// Close cleans, drops the frozen attempt and leftover relay session and
// closes the respond transport. Only the first call has an effect.
func (d *Delegate) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	responder := d.responder
	d.mu.Unlock()

	err := d.Clean(ctx)
	if delErr := d.storage.Delete(ctx, passport.KeyRelaySession, passport.KeyFrozenState); delErr != nil {
		err = errors.Join(err, fmt.Errorf("close: %w", delErr))
	}
	if closeErr := responder.Close(ctx); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close responder: %w", closeErr))
	}
	d.log.WithField("attempt", d.AttemptID()).Debug("delegate closed")
	return err
}

// RespondSuccess delivers a success message and closes the attempt.
func (d *Delegate) RespondSuccess(ctx context.Context, data map[string]string) error {
	return d.respond(ctx, core.RespondSuccess, data)
}

// RespondFailure delivers a failure message and closes the attempt.
func (d *Delegate) RespondFailure(ctx context.Context, data map[string]string) error {
	if data[ParamErrorCode] == "" {
		data = maps.Clone(data)
		if data == nil {
			data = make(map[string]string)
		}
		data[ParamErrorCode] = DefaultErrorCode
	}
	return d.respond(ctx, core.RespondError, data)
}

// Fail responds failure with err's message and code.
func (d *Delegate) Fail(ctx context.Context, err error) error {
	d.log.WithError(err).WithField("attempt", d.AttemptID()).Warn("authentication failed")
	return d.RespondFailure(ctx, failureData(err))
}

func (d *Delegate) respond(ctx context.Context, t core.RespondType, data map[string]string) error {
	d.mu.Lock()
	if d.responded {
		d.mu.Unlock()
		d.log.WithField("respond_type", t).Debug("attempt already responded, ignoring")
		return nil
	}
	d.responded = true
	responder := d.responder
	d.mu.Unlock()

	err := responder.Respond(ctx, core.NewRespondMessage(t, data))
	return errors.Join(err, d.Close(ctx))
}

// set records a locally decided value and freezes.
func (d *Delegate) set(ctx context.Context, kv map[string]string) error {
	d.mu.Lock()
	maps.Copy(d.attempt.State, kv)
	d.mu.Unlock()
	return d.Freeze(ctx)
}

// State returns a copy of the attempt state.
func (d *Delegate) State() map[string]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return maps.Clone(d.attempt.State)
}

// Get returns one state value.
func (d *Delegate) Get(key string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt.State[key]
}

// AttemptID identifies the current attempt.
func (d *Delegate) AttemptID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempt.ID
}

// Resolver returns the bound resolver, nil before a provider is selected.
func (d *Delegate) Resolver() IdentityResolver {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resolver
}

// Responder returns the bound respond transport.
func (d *Delegate) Responder() Responder {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responder
}

// RespondStrategy returns the bound respond strategy.
func (d *Delegate) RespondStrategy() RespondStrategy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.strategy
}

// Responded reports whether the attempt reached its terminal response.
func (d *Delegate) Responded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.responded
}

// projectIdentifier returns the project identifier of the attempt or the
// one stored by a previous visit.
func (d *Delegate) projectIdentifier(ctx context.Context) (string, error) {
	if ident := d.Get(ParamProjectIdentifier); ident != "" {
		return ident, nil
	}
	return passport.GetString(ctx, d.storage, passport.KeyProjectIdentifier)
}
