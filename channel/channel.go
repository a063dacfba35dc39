// Package channel owns the raw transport to an external signer: an injected
// handle registered in an Environment, or a relay session paired over a
// watermill pub/sub.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/passport/core"
)

// DefaultRequestTimeout bounds every channel request that does not carry its
// own timeout.
const DefaultRequestTimeout = 6 * time.Second

// DefaultPingMethod is deliberately not a valid JSON-RPC method.
const DefaultPingMethod = "ping"

// State is the channel connection state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnected  State = "disconnected"
)

// EventKind names a signer originated event.
type EventKind string

const (
	EventConnect         EventKind = "connect"
	EventAccountsChanged EventKind = "accountsChanged"
	EventChainChanged    EventKind = "chainChanged"
	EventDisconnect      EventKind = "disconnect"
)

// Event is pushed by the external signer.
type Event struct {
	Kind     EventKind
	Accounts []string
	ChainID  core.ChainID
	Err      error
}

// ConnectOptions tune a single Connect call.
type ConnectOptions struct {
	// OnDisplayURI receives the pairing URI of a new relay session, to be
	// rendered as a QR code or planted as a deep link.
	OnDisplayURI func(uri string)

	// ChainID is the chain requested from a relay peer.
	ChainID core.ChainID
}

// Handle is the raw signer object a channel talks to.
type Handle interface {
	Request(ctx context.Context, method string, params []any) (json.RawMessage, error)
}

// FlagSource is implemented by handles exposing brand flags such as isMetaMask.
type FlagSource interface {
	Flag(name string) bool
}

// EventSource is implemented by handles that push events.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Channel is a transport specific connection to an external signer.
type Channel interface {
	ConnectorType() core.ConnectorType
	State() State
	IsConnected() bool

	// Connect establishes the live link. Connecting an already connected
	// channel fails with core.ErrChannelConnectionEstablishmentFailed.
	Connect(ctx context.Context, opts ConnectOptions) error

	// CheckSession is a non-mutating health probe. It never fails; an absent
	// signer is reported as (false, nil).
	CheckSession(ctx context.Context) (bool, Handle)

	// Request forwards a call to the signer. A zero timeout means
	// DefaultRequestTimeout (or the channel's configured timeout).
	Request(ctx context.Context, req core.RPCRequest, timeout time.Duration) (json.RawMessage, error)

	// Ping reports whether the signer answered an invalid method with the
	// transport's "method not found" error.
	Ping(ctx context.Context, method string) bool

	// Handle returns the live handle, nil when not connected.
	Handle() Handle

	// SessionForStorage serializes what is needed to rebuild the channel
	// without prompting the user again.
	SessionForStorage() (core.Session, error)

	// Events delivers signer events. The channel is never closed.
	Events() <-chan Event

	Disconnect(ctx context.Context) error
}

// Option configures a channel.
type Option func(*base)

// WithTimeout overrides DefaultRequestTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *base) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithLogger sets the channel logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *base) {
		if l != nil {
			b.log = l
		}
	}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// base holds the state machine and request time bound shared by all
// transports.
type base struct {
	connectorType core.ConnectorType
	timeout       time.Duration
	log           logrus.FieldLogger
	events        chan Event

	mu    sync.RWMutex
	state State
}

func (b *base) init(t core.ConnectorType, opts []Option) {
	b.connectorType = t
	b.timeout = DefaultRequestTimeout
	b.log = discardLogger()
	b.events = make(chan Event, 16)
	b.state = StateUninitialized
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("connector_type", t)
}

func (b *base) ConnectorType() core.ConnectorType {
	return b.connectorType
}

func (b *base) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *base) IsConnected() bool {
	return b.State() == StateConnected
}

func (b *base) Events() <-chan Event {
	return b.events
}

func (b *base) setState(s State) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	b.mu.Unlock()

	if prev != s {
		b.log.WithFields(logrus.Fields{"from": prev, "to": s}).Debug("channel state changed")
	}
}

// beginConnect moves the channel to connecting unless it is already
// connected or connecting.
func (b *base) beginConnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateConnected:
		return fmt.Errorf("%w: already connected", core.ErrChannelConnectionEstablishmentFailed)
	case StateConnecting:
		return fmt.Errorf("%w: connection in progress", core.ErrChannelConnectionEstablishmentFailed)
	}
	b.state = StateConnecting
	return nil
}

func (b *base) emit(ev Event) {
	select {
	case b.events <- ev:
	default:
		b.log.WithField("event", ev.Kind).Warn("channel event dropped, no consumer")
	}
}

// request runs call under the channel time bound. Errors returned by call
// propagate unchanged; exceeding the bound yields core.ErrProviderRequestTimeout.
func (b *base) request(
	ctx context.Context,
	req core.RPCRequest,
	timeout time.Duration,
	call func(ctx context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	if !b.IsConnected() {
		return nil, fmt.Errorf("%s: %w", req.Method, core.ErrProviderConnection)
	}
	if timeout <= 0 {
		timeout = b.timeout
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		raw json.RawMessage
		err error
	}
	done := make(chan result, 1)
	go func() {
		raw, err := call(ctx)
		done <- result{raw: raw, err: err}
	}()

	// Only the channel bound is reported as a request timeout; the caller's
	// own cancellation or deadline is returned as is.
	timedOut := func() bool {
		return parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded)
	}
	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && timedOut() {
			return nil, fmt.Errorf("%s after %s: %w", req.Method, timeout, core.ErrProviderRequestTimeout)
		}
		return r.raw, r.err
	case <-ctx.Done():
		if timedOut() {
			return nil, fmt.Errorf("%s after %s: %w", req.Method, timeout, core.ErrProviderRequestTimeout)
		}
		return nil, parent.Err()
	}
}

// ping sends an invalid method and lets verify classify the error.
func ping(ctx context.Context, ch Channel, method string, verify func(error) bool) bool {
	if method == "" {
		method = DefaultPingMethod
	}
	_, err := ch.Request(ctx, core.RPCRequest{Method: method}, 0)
	if err == nil {
		return false
	}
	return verify(err)
}
