package channel

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/layer-3/passport/core"
)

// DefaultRelayProtocol is written into pairing URIs.
const DefaultRelayProtocol = "irn"

// DefaultSessionExpiry bounds a settled relay session.
const DefaultSessionExpiry = 7 * 24 * time.Hour

// PeerMetadata describes the wallet on the other side of a relay session.
type PeerMetadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	URL         string   `json:"url,omitempty"`
	Icons       []string `json:"icons,omitempty"`
}

// RelaySession is the storable descriptor of a settled relay session.
type RelaySession struct {
	Topic    string       `json:"topic"`
	SymKey   string       `json:"sym_key"`
	Relay    string       `json:"relay"`
	Peer     PeerMetadata `json:"peer"`
	Accounts []string     `json:"accounts"`
	ChainID  core.ChainID `json:"chain_id"`
	Expiry   int64        `json:"expiry"`
}

// Expired reports whether the session is past its expiry at now.
func (s RelaySession) Expired(now time.Time) bool {
	return s.Expiry > 0 && now.Unix() >= s.Expiry
}

// ValidateRelaySession reports whether session is a relay session.
func ValidateRelaySession(session core.Session) bool {
	var s RelaySession
	if err := json.Unmarshal(session, &s); err != nil {
		return false
	}
	return s.Topic != "" && len(s.SymKey) == 2*chacha20poly1305.KeySize
}

// Pairing is the information shared with a wallet out of band.
type Pairing struct {
	Topic  string
	Relay  string
	SymKey []byte
}

// URI renders the pairing as wc:<topic>@2?relay-protocol=<relay>&symKey=<hex>.
func (p Pairing) URI() string {
	q := url.Values{}
	q.Set("relay-protocol", p.Relay)
	q.Set("symKey", hex.EncodeToString(p.SymKey))
	return fmt.Sprintf("wc:%s@2?%s", p.Topic, q.Encode())
}

// ParsePairingURI parses a pairing URI produced by Pairing.URI.
func ParsePairingURI(uri string) (Pairing, error) {
	rest, ok := strings.CutPrefix(uri, "wc:")
	if !ok {
		return Pairing{}, fmt.Errorf("pairing uri %q: missing wc scheme", uri)
	}
	head, query, ok := strings.Cut(rest, "?")
	if !ok {
		return Pairing{}, fmt.Errorf("pairing uri %q: missing parameters", uri)
	}
	topic, version, _ := strings.Cut(head, "@")
	if topic == "" || version != "2" {
		return Pairing{}, fmt.Errorf("pairing uri %q: bad topic or version", uri)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return Pairing{}, fmt.Errorf("pairing uri: %w", err)
	}
	key, err := hex.DecodeString(values.Get("symKey"))
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return Pairing{}, fmt.Errorf("pairing uri %q: bad symKey", uri)
	}
	return Pairing{Topic: topic, Relay: values.Get("relay-protocol"), SymKey: key}, nil
}

func newSymKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate relay key: %w", err)
	}
	return key, nil
}

// Relay topics derived from the pairing topic.
func walletTopic(topic string) string { return topic + ".wallet" }
func dappTopic(topic string) string   { return topic + ".dapp" }

// RelayMessageType discriminates relay envelopes.
type RelayMessageType string

const (
	RelaySettle   RelayMessageType = "settle"
	RelayRequest  RelayMessageType = "request"
	RelayResponse RelayMessageType = "response"
	RelayEvent    RelayMessageType = "event"
)

// RelayMessage is the plaintext of a sealed relay envelope.
type RelayMessage struct {
	Type   RelayMessageType `json:"type"`
	ID     string           `json:"id,omitempty"`
	Method string           `json:"method,omitempty"`
	Params []any            `json:"params,omitempty"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *core.RPCError   `json:"error,omitempty"`

	// settle and event payloads
	Event    EventKind    `json:"event,omitempty"`
	Accounts []string     `json:"accounts,omitempty"`
	ChainID  core.ChainID `json:"chain_id,omitempty"`
	Peer     PeerMetadata `json:"peer,omitempty"`
	Expiry   int64        `json:"expiry,omitempty"`
}

// Seal encrypts m with key using ChaCha20-Poly1305; the nonce is prepended.
func Seal(key []byte, m RelayMessage) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Open decrypts an envelope produced by Seal.
func Open(key []byte, sealed []byte) (RelayMessage, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return RelayMessage{}, err
	}
	if len(sealed) < aead.NonceSize() {
		return RelayMessage{}, fmt.Errorf("relay envelope too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return RelayMessage{}, fmt.Errorf("open relay envelope: %w", err)
	}
	var m RelayMessage
	if err := json.Unmarshal(plain, &m); err != nil {
		return RelayMessage{}, fmt.Errorf("decode relay message: %w", err)
	}
	return m, nil
}
