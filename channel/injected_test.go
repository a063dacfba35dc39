package channel_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/passport/channel"
	"github.com/layer-3/passport/core"
	"github.com/layer-3/passport/internal/testwallet"
)

type stubHandle struct {
	delay time.Duration
	err   error
}

func (h stubHandle) Request(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	select {
	case <-time.After(h.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if h.err != nil {
		return nil, h.err
	}
	return json.RawMessage(`"ok"`), nil
}

func TestInjectedChannel_CheckSessionAbsent(t *testing.T) {
	ch := channel.NewInjectedChannel(channel.NewEnvironment(), "ethereum")

	ok, h := ch.CheckSession(context.Background())
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestInjectedChannel_ConnectAbsent(t *testing.T) {
	ch := channel.NewInjectedChannel(channel.NewEnvironment(), "ethereum")

	err := ch.Connect(context.Background(), channel.ConnectOptions{})
	require.ErrorIs(t, err, core.ErrChannelConnectionEstablishmentFailed)
	assert.Equal(t, channel.StateDisconnected, ch.State())
	assert.False(t, ch.IsConnected())
}

func TestInjectedChannel_ConnectTwiceFails(t *testing.T) {
	w := testwallet.New(1)
	env := channel.NewEnvironment()
	env.Inject("ethereum", w.Handle("isMetaMask"))

	ch := channel.NewInjectedChannel(env, "ethereum")
	ctx := context.Background()

	require.NoError(t, ch.Connect(ctx, channel.ConnectOptions{}))
	assert.True(t, ch.IsConnected())

	err := ch.Connect(ctx, channel.ConnectOptions{})
	assert.ErrorIs(t, err, core.ErrChannelConnectionEstablishmentFailed)
	assert.True(t, ch.IsConnected())

	ev := <-ch.Events()
	assert.Equal(t, channel.EventConnect, ev.Kind)
}

func TestInjectedChannel_RequestRequiresConnection(t *testing.T) {
	env := channel.NewEnvironment()
	env.Inject("ethereum", stubHandle{})
	ch := channel.NewInjectedChannel(env, "ethereum")

	_, err := ch.Request(context.Background(), core.RPCRequest{Method: "eth_accounts"}, 0)
	assert.ErrorIs(t, err, core.ErrProviderConnection)
}

func TestInjectedChannel_RequestTimeout(t *testing.T) {
	env := channel.NewEnvironment()
	env.Inject("ethereum", stubHandle{delay: time.Second})
	ch := channel.NewInjectedChannel(env, "ethereum", channel.WithTimeout(time.Hour))
	ctx := context.Background()
	require.NoError(t, ch.Connect(ctx, channel.ConnectOptions{}))

	start := time.Now()
	_, err := ch.Request(ctx, core.RPCRequest{Method: "eth_accounts"}, 20*time.Millisecond)
	require.ErrorIs(t, err, core.ErrProviderRequestTimeout)
	assert.True(t, core.IsTimeout(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestInjectedChannel_CallerDeadlineIsNotATimeout(t *testing.T) {
	env := channel.NewEnvironment()
	env.Inject("ethereum", stubHandle{delay: time.Second})
	ch := channel.NewInjectedChannel(env, "ethereum", channel.WithTimeout(time.Hour))
	require.NoError(t, ch.Connect(context.Background(), channel.ConnectOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ch.Request(ctx, core.RPCRequest{Method: "eth_accounts"}, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, core.ErrProviderRequestTimeout)
	assert.False(t, core.IsTimeout(err))

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = ch.Request(ctx, core.RPCRequest{Method: "eth_accounts"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInjectedChannel_UnderlyingErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	env := channel.NewEnvironment()
	env.Inject("ethereum", stubHandle{err: boom})
	ch := channel.NewInjectedChannel(env, "ethereum")
	ctx := context.Background()
	require.NoError(t, ch.Connect(ctx, channel.ConnectOptions{}))

	_, err := ch.Request(ctx, core.RPCRequest{Method: "eth_accounts"}, 0)
	assert.Equal(t, boom, err)
	assert.False(t, core.IsTimeout(err))
}

func TestInjectedChannel_Ping(t *testing.T) {
	ctx := context.Background()

	w := testwallet.New(1)
	env := channel.NewEnvironment()
	env.Inject("ethereum", w.Handle())
	env.Inject("broken", stubHandle{err: errors.New("not an rpc error")})

	alive := channel.NewInjectedChannel(env, "ethereum")
	require.NoError(t, alive.Connect(ctx, channel.ConnectOptions{}))
	assert.True(t, alive.Ping(ctx, ""))

	broken := channel.NewInjectedChannel(env, "broken")
	require.NoError(t, broken.Connect(ctx, channel.ConnectOptions{}))
	assert.False(t, broken.Ping(ctx, ""))

	disconnected := channel.NewInjectedChannel(env, "ethereum")
	assert.False(t, disconnected.Ping(ctx, ""))
}

func TestInjectedChannel_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(1)
	env := channel.NewEnvironment()
	env.Inject("ethereum", w.Handle())

	ch := channel.NewInjectedChannel(env, "ethereum")
	require.NoError(t, ch.Connect(ctx, channel.ConnectOptions{}))
	_, err := ch.Request(ctx, core.RPCRequest{Method: "eth_requestAccounts"}, 0)
	require.NoError(t, err)

	session, err := ch.SessionForStorage()
	require.NoError(t, err)
	assert.True(t, channel.ValidateInjectedSession(session))
	assert.False(t, channel.ValidateRelaySession(session))

	restored, err := channel.RestoreInjectedChannel(env, session)
	require.NoError(t, err)
	ok, h := restored.CheckSession(ctx)
	assert.Equal(t, ch.IsConnected(), ok)
	assert.NotNil(t, h)

	_, err = channel.RestoreInjectedChannel(env, []byte(`{}`))
	assert.ErrorIs(t, err, core.ErrInvalidSession)
}

func TestInjectedChannel_ChainChangedEvent(t *testing.T) {
	ctx := context.Background()
	w := testwallet.New(1)
	env := channel.NewEnvironment()
	env.Inject("ethereum", w.Handle())

	ch := channel.NewInjectedChannel(env, "ethereum")
	require.NoError(t, ch.Connect(ctx, channel.ConnectOptions{}))
	<-ch.Events() // connect

	w.SwitchChain(137)

	select {
	case ev := <-ch.Events():
		assert.Equal(t, channel.EventChainChanged, ev.Kind)
		assert.Equal(t, core.ChainID("137"), ev.ChainID)
	case <-time.After(time.Second):
		t.Fatal("no chainChanged event")
	}

	session, err := ch.SessionForStorage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"ethereum","chain_id":"137"}`, string(session))

	require.NoError(t, ch.Disconnect(ctx))
	require.NoError(t, ch.Disconnect(ctx))
	assert.Nil(t, ch.Handle())
}
