package channel

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/rpc"
)

// RPCHandle is an injected handle backed by a JSON-RPC endpoint. It lets a
// signer exposed over HTTP, WebSocket, IPC or in-process be injected into an
// Environment.
type RPCHandle struct {
	client *rpc.Client
	flags  map[string]bool

	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextID      int
}

var (
	_ Handle      = (*RPCHandle)(nil)
	_ FlagSource  = (*RPCHandle)(nil)
	_ EventSource = (*RPCHandle)(nil)
)

// DialRPCHandle connects to a JSON-RPC endpoint.
func DialRPCHandle(ctx context.Context, url string, flags ...string) (*RPCHandle, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return NewRPCHandle(client, flags...), nil
}

// NewRPCHandle wraps an existing client. Each flag is reported as set.
func NewRPCHandle(client *rpc.Client, flags ...string) *RPCHandle {
	h := &RPCHandle{
		client:      client,
		flags:       make(map[string]bool, len(flags)),
		subscribers: make(map[int]func(Event)),
	}
	for _, f := range flags {
		h.flags[f] = true
	}
	return h
}

// Request performs a JSON-RPC call.
func (h *RPCHandle) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := h.client.CallContext(ctx, &raw, method, params...); err != nil {
		return nil, err
	}
	return raw, nil
}

// Flag reports a brand flag.
func (h *RPCHandle) Flag(name string) bool {
	return h.flags[name]
}

// Subscribe registers fn for events emitted through Emit.
func (h *RPCHandle) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.subscribers, id)
		h.mu.Unlock()
	}
}

// Emit delivers ev to every subscriber. The endpoint owner calls it when the
// signer changes accounts or chain.
func (h *RPCHandle) Emit(ev Event) {
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Close closes the underlying client.
func (h *RPCHandle) Close() {
	h.client.Close()
}
