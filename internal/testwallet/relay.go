package testwallet

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
)

// NewRelayTransport returns an in-process relay transport.
func NewRelayTransport() channel.RelayTransport {
	pubsub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	return channel.RelayTransport{Publisher: pubsub, Subscriber: pubsub}
}

// RelayPeer answers relay pairings on behalf of a Wallet.
type RelayPeer struct {
	Wallet    *Wallet
	Transport channel.RelayTransport
	Metadata  channel.PeerMetadata

	// Reject makes the peer refuse pairings.
	Reject bool
}

// Approve settles the pairing in uri and serves requests until ctx ends.
// It is meant to be called from a ConnectOptions.OnDisplayURI callback.
func (p *RelayPeer) Approve(ctx context.Context, uri string) error {
	pairing, err := channel.ParsePairingURI(uri)
	if err != nil {
		return err
	}

	requests, err := p.Transport.Subscriber.Subscribe(ctx, pairing.Topic+".dapp")
	if err != nil {
		return err
	}
	handle := p.Wallet.Handle()
	go p.serve(ctx, pairing, handle, requests)

	settle := channel.RelayMessage{
		Type:     channel.RelaySettle,
		Accounts: []string{p.Wallet.Address.Hex()},
		ChainID:  p.Wallet.ChainID(),
		Peer:     p.Metadata,
	}
	if p.Reject {
		settle = channel.RelayMessage{
			Type:  channel.RelaySettle,
			Error: &core.RPCError{Code: CodeUserRejected, Message: "pairing rejected"},
		}
	}
	return p.publish(pairing, settle)
}

// Emit pushes an event to the dapp side of a pairing.
func (p *RelayPeer) Emit(uri string, ev channel.Event) error {
	pairing, err := channel.ParsePairingURI(uri)
	if err != nil {
		return err
	}
	return p.publish(pairing, channel.RelayMessage{
		Type:     channel.RelayEvent,
		Event:    ev.Kind,
		Accounts: ev.Accounts,
		ChainID:  ev.ChainID,
	})
}

func (p *RelayPeer) serve(ctx context.Context, pairing channel.Pairing, handle *channel.RPCHandle, requests <-chan *message.Message) {
	defer handle.Close()
	for msg := range requests {
		req, err := channel.Open(pairing.SymKey, msg.Payload)
		msg.Ack()
		if err != nil || req.Type != channel.RelayRequest {
			continue
		}

		resp := channel.RelayMessage{Type: channel.RelayResponse, ID: req.ID}
		result, err := handle.Request(ctx, req.Method, req.Params)
		if err != nil {
			resp.Error = toRPCError(err)
		} else {
			resp.Result = result
		}
		_ = p.publish(pairing, resp)
	}
}

func (p *RelayPeer) publish(pairing channel.Pairing, m channel.RelayMessage) error {
	payload, err := channel.Seal(pairing.SymKey, m)
	if err != nil {
		return err
	}
	return p.Transport.Publisher.Publish(pairing.Topic+".wallet", message.NewMessage(watermill.NewUUID(), payload))
}

func toRPCError(err error) *core.RPCError {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &core.RPCError{Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return &core.RPCError{Code: -32603, Message: err.Error()}
}
