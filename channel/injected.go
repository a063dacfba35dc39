package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/layer-3/passport/core"
)

// Error codes proving an injected signer is alive when it rejects a method.
const (
	codeMethodNotFound     = -32601
	codeUnsupportedMethod  = 4200
	checkSessionTimeout    = 2 * time.Second
	checkSessionMethodName = "eth_accounts"
)

// InjectedSession is the storable form of an injected connection.
type InjectedSession struct {
	Path    string       `json:"path"`
	ChainID core.ChainID `json:"chain_id,omitempty"`
}

// InjectedChannel talks to a handle found at a global path of an Environment.
type InjectedChannel struct {
	base

	env  *Environment
	path string

	hmu         sync.RWMutex
	handle      Handle
	chainID     core.ChainID
	unsubscribe func()
}

var _ Channel = (*InjectedChannel)(nil)

// NewInjectedChannel creates a channel bound to path in env.
func NewInjectedChannel(env *Environment, path string, opts ...Option) *InjectedChannel {
	c := &InjectedChannel{env: env, path: path}
	c.init(core.ConnectorInjected, opts)
	c.log = c.log.WithField("path", path)
	return c
}

// RestoreInjectedChannel rebuilds a channel from a stored session.
func RestoreInjectedChannel(env *Environment, session core.Session, opts ...Option) (*InjectedChannel, error) {
	var s InjectedSession
	if err := json.Unmarshal(session, &s); err != nil || s.Path == "" {
		return nil, fmt.Errorf("injected session: %w", core.ErrInvalidSession)
	}
	c := NewInjectedChannel(env, s.Path, opts...)
	c.chainID = s.ChainID
	return c, nil
}

// ValidateInjectedSession reports whether session is an injected session.
func ValidateInjectedSession(session core.Session) bool {
	var s InjectedSession
	if err := json.Unmarshal(session, &s); err != nil {
		return false
	}
	return s.Path != ""
}

// Path returns the global path of the handle.
func (c *InjectedChannel) Path() string {
	return c.path
}

// Connect locates the handle and registers the liveness callback.
func (c *InjectedChannel) Connect(ctx context.Context, _ ConnectOptions) error {
	if err := c.beginConnect(); err != nil {
		return err
	}

	h, ok := c.env.Lookup(c.path)
	if !ok {
		c.setState(StateDisconnected)
		return fmt.Errorf("%w: no signer at %q", core.ErrChannelConnectionEstablishmentFailed, c.path)
	}

	c.hmu.Lock()
	c.handle = h
	if src, ok := h.(EventSource); ok {
		c.unsubscribe = src.Subscribe(c.onHandleEvent)
	}
	c.hmu.Unlock()

	c.setState(StateConnected)
	c.emit(Event{Kind: EventConnect, ChainID: c.currentChain()})
	return nil
}

func (c *InjectedChannel) onHandleEvent(ev Event) {
	switch ev.Kind {
	case EventChainChanged:
		c.hmu.Lock()
		c.chainID = ev.ChainID
		c.hmu.Unlock()
	case EventDisconnect:
		c.setState(StateDisconnected)
	}
	c.emit(ev)
}

func (c *InjectedChannel) currentChain() core.ChainID {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	return c.chainID
}

// CheckSession reports whether a handle is present at the path and has
// authorized at least one account.
func (c *InjectedChannel) CheckSession(ctx context.Context) (bool, Handle) {
	h, ok := c.env.Lookup(c.path)
	if !ok {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, checkSessionTimeout)
	defer cancel()

	raw, err := h.Request(ctx, checkSessionMethodName, nil)
	if err != nil {
		c.log.WithError(err).Debug("check session request failed")
		return false, h
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return false, h
	}
	return len(accounts) > 0, h
}

// Request forwards req to the handle under the time bound.
func (c *InjectedChannel) Request(ctx context.Context, req core.RPCRequest, timeout time.Duration) (json.RawMessage, error) {
	return c.request(ctx, req, timeout, func(ctx context.Context) (json.RawMessage, error) {
		h := c.Handle()
		if h == nil {
			return nil, fmt.Errorf("%s: %w", req.Method, core.ErrProviderConnection)
		}
		return h.Request(ctx, req.Method, req.Params)
	})
}

// Ping classifies a rejected invalid method as a live signer.
func (c *InjectedChannel) Ping(ctx context.Context, method string) bool {
	return ping(ctx, c, method, verifyInjectedPingException)
}

func verifyInjectedPingException(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	code := rpcErr.ErrorCode()
	return code == codeMethodNotFound || code == codeUnsupportedMethod
}

// Handle returns the live handle.
func (c *InjectedChannel) Handle() Handle {
	c.hmu.RLock()
	defer c.hmu.RUnlock()
	if !c.IsConnected() {
		return nil
	}
	return c.handle
}

// SessionForStorage returns the path and last observed chain.
func (c *InjectedChannel) SessionForStorage() (core.Session, error) {
	return json.Marshal(InjectedSession{Path: c.path, ChainID: c.currentChain()})
}

// Disconnect drops the handle. Disconnecting twice is a no-op.
func (c *InjectedChannel) Disconnect(_ context.Context) error {
	c.hmu.Lock()
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.handle = nil
	c.hmu.Unlock()

	if c.State() != StateUninitialized {
		c.setState(StateDisconnected)
	}
	return nil
}
