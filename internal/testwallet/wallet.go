// Package testwallet provides an in-process EVM signer used by tests: a
// go-ethereum RPC server that can be injected as a handle or served over a
// relay pairing.
package testwallet

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
)

// CodeUserRejected is the EIP-1193 "user rejected the request" code.
const CodeUserRejected = 4001

type codedError struct {
	code int
	msg  string
}

func (e *codedError) Error() string  { return e.msg }
func (e *codedError) ErrorCode() int { return e.code }

// Wallet is a single-account signer.
type Wallet struct {
	Key     *ecdsa.PrivateKey
	Address common.Address

	server *rpc.Server

	mu         sync.Mutex
	chainID    uint64
	balance    *big.Int
	authorized bool
	reject     bool
	sent       []map[string]any
	handles    []*channel.RPCHandle
}

// New creates a wallet on chainID with a fresh key and 1.5 ether.
func New(chainID uint64) *Wallet {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	balance, _ := new(big.Int).SetString("1500000000000000000", 10)

	w := &Wallet{
		Key:     key,
		Address: crypto.PubkeyToAddress(key.PublicKey),
		server:  rpc.NewServer(),
		chainID: chainID,
		balance: balance,
	}
	if err := w.server.RegisterName("eth", &ethAPI{w}); err != nil {
		panic(err)
	}
	if err := w.server.RegisterName("personal", &personalAPI{w}); err != nil {
		panic(err)
	}
	return w
}

// Handle returns an injected handle talking to the wallet in-process.
func (w *Wallet) Handle(flags ...string) *channel.RPCHandle {
	h := channel.NewRPCHandle(rpc.DialInProc(w.server), flags...)
	w.mu.Lock()
	w.handles = append(w.handles, h)
	w.mu.Unlock()
	return h
}

// Authorize marks the dapp as already connected, as after a previous visit.
func (w *Wallet) Authorize() {
	w.mu.Lock()
	w.authorized = true
	w.mu.Unlock()
}

// RejectRequests makes eth_requestAccounts fail with CodeUserRejected.
func (w *Wallet) RejectRequests() {
	w.mu.Lock()
	w.reject = true
	w.mu.Unlock()
}

// SwitchChain changes the chain and notifies subscribed handles.
func (w *Wallet) SwitchChain(id uint64) {
	w.mu.Lock()
	w.chainID = id
	handles := append([]*channel.RPCHandle(nil), w.handles...)
	w.mu.Unlock()

	for _, h := range handles {
		h.Emit(channel.Event{Kind: channel.EventChainChanged, ChainID: core.ChainID(strconv.FormatUint(id, 10))})
	}
}

// ChainID returns the current chain.
func (w *Wallet) ChainID() core.ChainID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return core.ChainID(strconv.FormatUint(w.chainID, 10))
}

// Sent returns the transactions passed to eth_sendTransaction.
func (w *Wallet) Sent() []map[string]any {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]any(nil), w.sent...)
}

// SignText signs message the way personal_sign does.
func (w *Wallet) SignText(message []byte) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), w.Key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

type ethAPI struct {
	w *Wallet
}

func (api *ethAPI) Accounts() []common.Address {
	api.w.mu.Lock()
	defer api.w.mu.Unlock()
	if !api.w.authorized {
		return []common.Address{}
	}
	return []common.Address{api.w.Address}
}

func (api *ethAPI) RequestAccounts() ([]common.Address, error) {
	api.w.mu.Lock()
	defer api.w.mu.Unlock()
	if api.w.reject {
		return nil, &codedError{code: CodeUserRejected, msg: "User rejected the request."}
	}
	api.w.authorized = true
	return []common.Address{api.w.Address}, nil
}

func (api *ethAPI) ChainId() hexutil.Uint64 {
	api.w.mu.Lock()
	defer api.w.mu.Unlock()
	return hexutil.Uint64(api.w.chainID)
}

func (api *ethAPI) GetBalance(addr common.Address, _ string) (*hexutil.Big, error) {
	api.w.mu.Lock()
	defer api.w.mu.Unlock()
	if addr != api.w.Address {
		return (*hexutil.Big)(new(big.Int)), nil
	}
	return (*hexutil.Big)(new(big.Int).Set(api.w.balance)), nil
}

func (api *ethAPI) SendTransaction(tx map[string]any) (common.Hash, error) {
	api.w.mu.Lock()
	defer api.w.mu.Unlock()
	if !api.w.authorized {
		return common.Hash{}, &codedError{code: 4100, msg: "unauthorized"}
	}
	api.w.sent = append(api.w.sent, tx)
	return crypto.Keccak256Hash([]byte(strconv.Itoa(len(api.w.sent)))), nil
}

func (api *ethAPI) SignTransaction(tx map[string]any) (hexutil.Bytes, error) {
	if tx["from"] == nil {
		return nil, errors.New("missing from")
	}
	return hexutil.Bytes{0x02, 0x01}, nil
}

type personalAPI struct {
	w *Wallet
}

func (api *personalAPI) Sign(data hexutil.Bytes, addr common.Address) (hexutil.Bytes, error) {
	if addr != api.w.Address {
		return nil, &codedError{code: 4100, msg: "unknown account"}
	}
	return api.w.SignText(data)
}
