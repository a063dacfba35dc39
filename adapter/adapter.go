// Package adapter exposes chain domain operations over a provider.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/provider"
)

const defaultDecimals = 18

// ChainAdapter is the domain facade of a connected signer. It reaches the
// signer only through its provider.
type ChainAdapter interface {
	provider.Deriver

	Provider() *provider.Provider
	IsConnected() bool
	GetAccounts(ctx context.Context) ([]string, error)
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	SignPersonalMessage(ctx context.Context, message []byte, address string) (string, error)
	SignTransaction(ctx context.Context, tx Transaction) (string, error)
	SendTransaction(ctx context.Context, tx Transaction) (string, error)
	Call(ctx context.Context, method string, args ...any) (json.RawMessage, error)
}

// Factory builds an adapter bound to p.
type Factory func(p *provider.Provider) ChainAdapter

// Transaction is an EVM transaction request.
type Transaction struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to,omitempty"`
	Value *hexutil.Big    `json:"value,omitempty"`
	Gas   *hexutil.Uint64 `json:"gas,omitempty"`
	Data  hexutil.Bytes   `json:"data,omitempty"`
}

// EVMAdapter implements ChainAdapter for EIP-155 chains.
type EVMAdapter struct {
	p        *provider.Provider
	protocol ProtocolDefinition
}

var _ ChainAdapter = (*EVMAdapter)(nil)

// Option configures an EVMAdapter.
type Option func(*EVMAdapter)

// WithProtocol binds a protocol definition used by Call.
func WithProtocol(pd ProtocolDefinition) Option {
	return func(a *EVMAdapter) { a.protocol = pd }
}

// NewEVMAdapter creates an adapter and binds it to p as its deriver.
func NewEVMAdapter(p *provider.Provider, opts ...Option) *EVMAdapter {
	a := &EVMAdapter{p: p, protocol: EIP1193{}}
	for _, opt := range opts {
		opt(a)
	}
	p.Bind(a)
	return a
}

// EVMFactory is the Factory of EVMAdapter.
func EVMFactory(opts ...Option) Factory {
	return func(p *provider.Provider) ChainAdapter {
		return NewEVMAdapter(p, opts...)
	}
}

func (a *EVMAdapter) Provider() *provider.Provider { return a.p }

func (a *EVMAdapter) IsConnected() bool { return a.p.IsConnected() }

func (a *EVMAdapter) request(ctx context.Context, out any, method string, params ...any) error {
	raw, err := a.p.Request(ctx, core.RPCRequest{Method: method, Params: params})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode result: %w", method, err)
	}
	return nil
}

// RequestAccounts prompts the signer for account access.
func (a *EVMAdapter) RequestAccounts(ctx context.Context) ([]string, error) {
	return a.accounts(ctx, "eth_requestAccounts")
}

// GetAccounts returns the already authorized accounts.
func (a *EVMAdapter) GetAccounts(ctx context.Context) ([]string, error) {
	return a.accounts(ctx, "eth_accounts")
}

func (a *EVMAdapter) accounts(ctx context.Context, method string) ([]string, error) {
	var addrs []common.Address
	if err := a.request(ctx, &addrs, method); err != nil {
		return nil, err
	}
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.Hex()
	}
	return out, nil
}

// GetChainID returns the chain id in decimal form.
func (a *EVMAdapter) GetChainID(ctx context.Context) (core.ChainID, error) {
	var id hexutil.Uint64
	if err := a.request(ctx, &id, "eth_chainId"); err != nil {
		return "", err
	}
	return core.ChainID(strconv.FormatUint(uint64(id), 10)), nil
}

// GetBalance returns the balance of address in the connected chain's units.
func (a *EVMAdapter) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if !common.IsHexAddress(address) {
		return decimal.Zero, fmt.Errorf("get balance: invalid address %q", address)
	}
	var wei hexutil.Big
	if err := a.request(ctx, &wei, "eth_getBalance", common.HexToAddress(address), "latest"); err != nil {
		return decimal.Zero, err
	}

	decimals := int32(defaultDecimals)
	if c, ok := a.p.Chain(); ok {
		decimals = c.Decimals
	}
	return decimal.NewFromBigInt((*big.Int)(&wei), -decimals), nil
}

// SignPersonalMessage signs message with personal_sign and returns the
// hex encoded signature.
func (a *EVMAdapter) SignPersonalMessage(ctx context.Context, message []byte, address string) (string, error) {
	if address == "" {
		address = a.p.SelectedAccount()
	}
	var sig hexutil.Bytes
	if err := a.request(ctx, &sig, "personal_sign", hexutil.Bytes(message), common.HexToAddress(address)); err != nil {
		return "", err
	}
	return sig.String(), nil
}

// SignTransaction signs tx without broadcasting it.
func (a *EVMAdapter) SignTransaction(ctx context.Context, tx Transaction) (string, error) {
	var raw hexutil.Bytes
	if err := a.request(ctx, &raw, "eth_signTransaction", a.withSender(tx)); err != nil {
		return "", err
	}
	return raw.String(), nil
}

// SendTransaction signs and broadcasts tx, returning its hash.
func (a *EVMAdapter) SendTransaction(ctx context.Context, tx Transaction) (string, error) {
	var hash common.Hash
	if err := a.request(ctx, &hash, "eth_sendTransaction", a.withSender(tx)); err != nil {
		return "", err
	}
	return hash.Hex(), nil
}

func (a *EVMAdapter) withSender(tx Transaction) Transaction {
	if tx.From == (common.Address{}) {
		tx.From = common.HexToAddress(a.p.SelectedAccount())
	}
	return tx
}

// Call resolves a typed method through the bound protocol definition.
func (a *EVMAdapter) Call(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	req, err := a.protocol.Resolve(method, args)
	if err != nil {
		return nil, err
	}
	return a.p.Request(ctx, req)
}
