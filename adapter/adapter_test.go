package adapter_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport/adapter"
	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/testwallet"
	"github.com/layer-3/passport/provider"
)

func connected(t *testing.T, w *testwallet.Wallet) *adapter.EVMAdapter {
	t.Helper()
	env := channel.NewEnvironment()
	env.Inject("ethereum", w.Handle())

	p := provider.New(channel.NewInjectedChannel(env, "ethereum"))
	a := adapter.NewEVMAdapter(p)
	_, err := p.Connect(context.Background(), channel.ConnectOptions{})
	require.NoError(t, err)
	return a
}

func TestEVMAdapter_AccountsAndChain(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(137)
	a := connected(t, w)

	accs, err := a.GetAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{w.Address.Hex()}, accs)

	id, err := a.GetChainID(ctx)
	require.NoError(t, err)
	assert.Equal(t, core.ChainID("137"), id)
	assert.True(t, a.IsConnected())
}

func TestEVMAdapter_GetBalance(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(1)
	a := connected(t, w)

	bal, err := a.GetBalance(ctx, w.Address.Hex())
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1.5").Equal(bal), bal.String())

	bal, err = a.GetBalance(ctx, common.Address{0x1}.Hex())
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	_, err = a.GetBalance(ctx, "not-an-address")
	assert.Error(t, err)
}

func TestEVMAdapter_SignPersonalMessage(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(1)
	a := connected(t, w)

	msg := []byte(core.ChallengeMessage("n0nce"))
	sig, err := a.SignPersonalMessage(ctx, msg, "")
	require.NoError(t, err)

	raw, err := hexutil.Decode(sig)
	require.NoError(t, err)
	require.Len(t, raw, crypto.SignatureLength)
	raw[crypto.RecoveryIDOffset] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash(msg), raw)
	require.NoError(t, err)
	assert.Equal(t, w.Address, crypto.PubkeyToAddress(*pub))
}

func TestEVMAdapter_Transactions(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(1)
	a := connected(t, w)

	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")
	tx := adapter.Transaction{To: &to, Value: (*hexutil.Big)(big.NewInt(1000))}

	hash, err := a.SendTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Len(t, hash, 66)

	sent := w.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hexutil.EncodeBig(big.NewInt(1000)), sent[0]["value"])
	assert.Equal(t, w.Address, common.HexToAddress(sent[0]["from"].(string)))

	signed, err := a.SignTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, "0x0201", signed)
}

func TestEVMAdapter_Call(t *testing.T) {
	ctx := context.Background()
	a := connected(t, testwallet.New(10))

	raw, err := a.Call(ctx, "ChainID")
	require.NoError(t, err)
	assert.JSONEq(t, `"0xa"`, string(raw))

	_, err = a.Call(ctx, "Teleport")
	assert.ErrorIs(t, err, adapter.ErrUnknownMethod)

	_, err = a.Call(ctx, "PersonalSign", "0x00")
	assert.Error(t, err)
}

func TestEVMAdapter_RequestsNeedConnection(t *testing.T) {
	p := provider.New(channel.NewInjectedChannel(channel.NewEnvironment(), "ethereum"))
	a := adapter.NewEVMAdapter(p)

	_, err := a.GetChainID(context.Background())
	assert.ErrorIs(t, err, core.ErrProviderConnection)
}

func TestEIP1193_Resolve(t *testing.T) {
	tests := []struct {
		method string
		args   []any
		want   core.RPCRequest
	}{
		{"Accounts", nil, core.RPCRequest{Method: "eth_accounts"}},
		{"Balance", []any{"0xabc"}, core.RPCRequest{Method: "eth_getBalance", Params: []any{"0xabc", "latest"}}},
		{"SwitchChain", []any{"137"}, core.RPCRequest{Method: "wallet_switchEthereumChain", Params: []any{map[string]string{"chainId": "0x89"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			got, err := adapter.EIP1193{}.Resolve(tt.method, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want.Method, got.Method)
			assert.Equal(t, len(tt.want.Params), len(got.Params))
			if len(tt.want.Params) > 0 {
				assert.Equal(t, tt.want.Params, got.Params)
			}
		})
	}

	raw, err := adapter.Raw{}.Resolve("eth_blockNumber", nil)
	require.NoError(t, err)
	assert.Equal(t, "eth_blockNumber", raw.Method)
}
