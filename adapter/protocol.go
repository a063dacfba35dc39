package adapter

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/layer-3/passport/core"
)

// ErrUnknownMethod is returned for a method a protocol does not define.
var ErrUnknownMethod = errors.New("unknown protocol method")

// ProtocolDefinition maps typed method names onto JSON-RPC requests.
type ProtocolDefinition interface {
	Name() string
	Resolve(method string, args []any) (core.RPCRequest, error)
}

// EIP1193 is the Ethereum provider protocol.
type EIP1193 struct{}

func (EIP1193) Name() string { return "eip1193" }

func (EIP1193) Resolve(method string, args []any) (core.RPCRequest, error) {
	rpc := func(m string, want int) (core.RPCRequest, error) {
		if len(args) != want {
			return core.RPCRequest{}, fmt.Errorf("%s takes %d arguments, got %d", method, want, len(args))
		}
		return core.RPCRequest{Method: m, Params: args}, nil
	}

	switch method {
	case "Accounts":
		return rpc("eth_accounts", 0)
	case "RequestAccounts":
		return rpc("eth_requestAccounts", 0)
	case "ChainID":
		return rpc("eth_chainId", 0)
	case "BlockNumber":
		return rpc("eth_blockNumber", 0)
	case "Balance":
		if len(args) == 1 {
			args = append(args, "latest")
		}
		return rpc("eth_getBalance", 2)
	case "PersonalSign":
		return rpc("personal_sign", 2)
	case "SignTypedData":
		return rpc("eth_signTypedData_v4", 2)
	case "SignTransaction":
		return rpc("eth_signTransaction", 1)
	case "SendTransaction":
		return rpc("eth_sendTransaction", 1)
	case "SwitchChain":
		if len(args) != 1 {
			return core.RPCRequest{}, fmt.Errorf("%s takes 1 argument, got %d", method, len(args))
		}
		id, err := strconv.ParseUint(fmt.Sprint(args[0]), 10, 64)
		if err != nil {
			return core.RPCRequest{}, fmt.Errorf("switch chain: %w", err)
		}
		return core.RPCRequest{
			Method: "wallet_switchEthereumChain",
			Params: []any{map[string]string{"chainId": hexutil.EncodeUint64(id)}},
		}, nil
	}
	return core.RPCRequest{}, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

// Raw passes methods through unchanged.
type Raw struct{}

func (Raw) Name() string { return "raw" }

func (Raw) Resolve(method string, args []any) (core.RPCRequest, error) {
	return core.RPCRequest{Method: method, Params: args}, nil
}
