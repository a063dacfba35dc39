package channel

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/passport/core"
)

// RelayTransport is the pub/sub a relay channel pairs over.
type RelayTransport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// RelayConfig configures relay channels.
type RelayConfig struct {
	// Relay is the relay protocol written into pairing URIs.
	Relay string

	// DeepLink is the wallet app link prefix the pairing URI is appended to,
	// e.g. "metamask://wc?uri=". Empty when the wallet has no app link.
	DeepLink string

	// SettleTimeout bounds how long Connect waits for the wallet to approve
	// a new pairing. Zero waits until the context ends.
	SettleTimeout time.Duration

	Now func() time.Time
}

// RelayChannel is a QR/deep-link paired session relayed through a pub/sub.
type RelayChannel struct {
	base

	transport RelayTransport
	cfg       RelayConfig

	smu     sync.RWMutex
	session *RelaySession
	key     []byte
	cancel  context.CancelFunc

	pmu     sync.Mutex
	pending map[string]chan RelayMessage
	settled chan RelayMessage
}

var _ Channel = (*RelayChannel)(nil)

// NewRelayChannel creates a relay channel. A nil session opens a new pairing
// on Connect; a stored session is resumed.
func NewRelayChannel(transport RelayTransport, cfg RelayConfig, session *RelaySession, opts ...Option) *RelayChannel {
	if cfg.Relay == "" {
		cfg.Relay = DefaultRelayProtocol
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	c := &RelayChannel{
		transport: transport,
		cfg:       cfg,
		session:   session,
		pending:   make(map[string]chan RelayMessage),
	}
	c.init(core.ConnectorRelay, opts)
	return c
}

// RestoreRelayChannel rebuilds a relay channel from a stored session.
func RestoreRelayChannel(transport RelayTransport, cfg RelayConfig, session core.Session, opts ...Option) (*RelayChannel, error) {
	if !ValidateRelaySession(session) {
		return nil, fmt.Errorf("relay session: %w", core.ErrInvalidSession)
	}
	var s RelaySession
	if err := json.Unmarshal(session, &s); err != nil {
		return nil, fmt.Errorf("relay session: %w", core.ErrInvalidSession)
	}
	return NewRelayChannel(transport, cfg, &s, opts...), nil
}

// DeepLink returns the configured wallet app link prefix.
func (c *RelayChannel) DeepLink() string {
	return c.cfg.DeepLink
}

// Session returns a copy of the settled session.
func (c *RelayChannel) Session() (RelaySession, bool) {
	c.smu.RLock()
	defer c.smu.RUnlock()
	if c.session == nil {
		return RelaySession{}, false
	}
	s := *c.session
	s.Accounts = append([]string(nil), c.session.Accounts...)
	return s, true
}

// Connect resumes a stored session or opens and settles a new pairing.
func (c *RelayChannel) Connect(ctx context.Context, opts ConnectOptions) error {
	if err := c.beginConnect(); err != nil {
		return err
	}

	var err error
	if s, ok := c.Session(); ok {
		err = c.resume(ctx, s)
	} else {
		err = c.pair(ctx, opts)
	}
	if err != nil {
		c.stop()
		c.setState(StateDisconnected)
		return err
	}

	s, _ := c.Session()
	c.setState(StateConnected)
	c.emit(Event{Kind: EventConnect, Accounts: s.Accounts, ChainID: s.ChainID})
	return nil
}

func (c *RelayChannel) resume(ctx context.Context, s RelaySession) error {
	if s.Expired(c.cfg.Now()) {
		return fmt.Errorf("%w: relay session %s", core.ErrSessionExpired, s.Topic)
	}
	key, err := hex.DecodeString(s.SymKey)
	if err != nil {
		return fmt.Errorf("%w: relay key", core.ErrInvalidSession)
	}
	c.smu.Lock()
	c.key = key
	c.smu.Unlock()

	return c.listen(s.Topic)
}

func (c *RelayChannel) pair(ctx context.Context, opts ConnectOptions) error {
	key, err := newSymKey()
	if err != nil {
		return err
	}
	pairing := Pairing{Topic: watermill.NewUUID(), Relay: c.cfg.Relay, SymKey: key}

	c.smu.Lock()
	c.key = key
	c.settled = make(chan RelayMessage, 1)
	c.smu.Unlock()

	if err := c.listen(pairing.Topic); err != nil {
		return err
	}

	uri := pairing.URI()
	c.log.WithField("topic", pairing.Topic).Debug("relay pairing opened")
	if opts.OnDisplayURI != nil {
		opts.OnDisplayURI(uri)
	}

	if c.cfg.SettleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SettleTimeout)
		defer cancel()
	}

	select {
	case m := <-c.settled:
		if m.Error != nil {
			return fmt.Errorf("%w: pairing rejected: %w", core.ErrChannelConnectionEstablishmentFailed, m.Error)
		}
		if len(m.Accounts) == 0 {
			return fmt.Errorf("%w: wallet settled without accounts", core.ErrChannelConnectionEstablishmentFailed)
		}
		expiry := m.Expiry
		if expiry == 0 {
			expiry = c.cfg.Now().Add(DefaultSessionExpiry).Unix()
		}
		c.smu.Lock()
		c.session = &RelaySession{
			Topic:    pairing.Topic,
			SymKey:   hex.EncodeToString(key),
			Relay:    pairing.Relay,
			Peer:     m.Peer,
			Accounts: m.Accounts,
			ChainID:  m.ChainID,
			Expiry:   expiry,
		}
		c.smu.Unlock()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for wallet approval: %w", core.ErrChannelConnectionEstablishmentFailed, ctx.Err())
	}
}

// listen subscribes to the wallet topic for the lifetime of the connection.
func (c *RelayChannel) listen(topic string) error {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := c.transport.Subscriber.Subscribe(ctx, walletTopic(topic))
	if err != nil {
		cancel()
		return fmt.Errorf("%w: subscribe relay: %w", core.ErrChannelConnectionEstablishmentFailed, err)
	}

	c.smu.Lock()
	c.cancel = cancel
	key := c.key
	c.smu.Unlock()

	go c.dispatch(msgs, key)
	return nil
}

func (c *RelayChannel) dispatch(msgs <-chan *message.Message, key []byte) {
	for msg := range msgs {
		m, err := Open(key, msg.Payload)
		msg.Ack()
		if err != nil {
			c.log.WithError(err).Warn("dropping relay envelope")
			continue
		}
		c.handle(m)
	}
}

func (c *RelayChannel) handle(m RelayMessage) {
	switch m.Type {
	case RelaySettle:
		c.smu.RLock()
		settled := c.settled
		c.smu.RUnlock()
		if settled != nil {
			select {
			case settled <- m:
			default:
			}
		}
	case RelayResponse:
		c.pmu.Lock()
		ch, ok := c.pending[m.ID]
		delete(c.pending, m.ID)
		c.pmu.Unlock()
		if ok {
			ch <- m
		}
	case RelayEvent:
		c.onEvent(m)
	default:
		c.log.WithField("type", m.Type).Debug("ignoring relay message")
	}
}

func (c *RelayChannel) onEvent(m RelayMessage) {
	c.smu.Lock()
	if c.session != nil {
		switch m.Event {
		case EventAccountsChanged:
			c.session.Accounts = m.Accounts
		case EventChainChanged:
			c.session.ChainID = m.ChainID
		}
	}
	c.smu.Unlock()

	if m.Event == EventDisconnect {
		c.stop()
		c.setState(StateDisconnected)
	}
	c.emit(Event{Kind: m.Event, Accounts: m.Accounts, ChainID: m.ChainID})
}

// CheckSession reports whether a stored session exists and is unexpired. It
// does not contact the wallet.
func (c *RelayChannel) CheckSession(_ context.Context) (bool, Handle) {
	s, ok := c.Session()
	if !ok || s.Expired(c.cfg.Now()) {
		return false, nil
	}
	return true, relayHandle{c}
}

// Request publishes a sealed request and waits for the correlated response.
func (c *RelayChannel) Request(ctx context.Context, req core.RPCRequest, timeout time.Duration) (json.RawMessage, error) {
	return c.request(ctx, req, timeout, func(ctx context.Context) (json.RawMessage, error) {
		return c.send(ctx, req.Method, req.Params)
	})
}

func (c *RelayChannel) send(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	s, ok := c.Session()
	if !ok {
		return nil, fmt.Errorf("%s: %w", method, core.ErrProviderConnection)
	}
	c.smu.RLock()
	key := c.key
	c.smu.RUnlock()

	id := watermill.NewUUID()
	reply := make(chan RelayMessage, 1)
	c.pmu.Lock()
	c.pending[id] = reply
	c.pmu.Unlock()
	defer func() {
		c.pmu.Lock()
		delete(c.pending, id)
		c.pmu.Unlock()
	}()

	payload, err := Seal(key, RelayMessage{Type: RelayRequest, ID: id, Method: method, Params: params})
	if err != nil {
		return nil, err
	}
	if err := c.transport.Publisher.Publish(dappTopic(s.Topic), message.NewMessage(id, payload)); err != nil {
		return nil, fmt.Errorf("%s: publish: %w", method, core.ErrProviderConnection)
	}

	select {
	case m := <-reply:
		if m.Error != nil {
			return nil, m.Error
		}
		return m.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ping classifies a relayed "method not found" as a live session.
func (c *RelayChannel) Ping(ctx context.Context, method string) bool {
	return ping(ctx, c, method, func(err error) bool {
		var rpcErr *core.RPCError
		return errors.As(err, &rpcErr) && rpcErr.Code == codeMethodNotFound
	})
}

// Handle returns a handle relaying raw requests, nil when not connected.
func (c *RelayChannel) Handle() Handle {
	if !c.IsConnected() {
		return nil
	}
	return relayHandle{c}
}

// SessionForStorage returns the settled session descriptor.
func (c *RelayChannel) SessionForStorage() (core.Session, error) {
	s, ok := c.Session()
	if !ok {
		return nil, fmt.Errorf("relay: %w", core.ErrConnectionEstablishmentFailed)
	}
	return json.Marshal(s)
}

// Disconnect stops listening. The stored session is kept so it can be
// resumed.
func (c *RelayChannel) Disconnect(_ context.Context) error {
	c.stop()
	if c.State() != StateUninitialized {
		c.setState(StateDisconnected)
	}
	return nil
}

func (c *RelayChannel) stop() {
	c.smu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.smu.Unlock()
	if cancel != nil {
		cancel()
	}
}

type relayHandle struct {
	c *RelayChannel
}

func (h relayHandle) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	return h.c.send(ctx, method, params)
}
