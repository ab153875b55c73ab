package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/pkg/types"
)

type inbound struct {
	from types.PeerID
	msg  *types.Message
}

func newTestTransport(t *testing.T, cfg Config) (*Transport, *identity.Provider, chan inbound, chan bool) {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)

	tr := New(cfg, id)
	msgs := make(chan inbound, 16)
	events := make(chan bool, 16)
	tr.SetMessageHandler(func(from types.PeerID, msg *types.Message) {
		msgs <- inbound{from, msg}
	})
	tr.SetConnectionHandler(func(_ types.PeerIdentity, connected bool) {
		events <- connected
	})

	require.NoError(t, tr.Listen(context.Background(), "127.0.0.1:0"))
	t.Cleanup(func() { _ = tr.StopListening() })
	return tr, id, msgs, events
}

func waitEvent(t *testing.T, events chan bool) bool {
	t.Helper()
	select {
	case v := <-events:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("no connection event")
		return false
	}
}

// TestConnectAndSend 测试握手与双向收发
func TestConnectAndSend(t *testing.T) {
	a, idA, msgsA, eventsA := newTestTransport(t, NewConfig())
	b, idB, msgsB, eventsB := newTestTransport(t, NewConfig())

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	assert.Equal(t, idB.LocalIdentity(), remote)
	assert.True(t, waitEvent(t, eventsA))
	assert.True(t, waitEvent(t, eventsB))
	assert.True(t, b.IsConnected(idA.LocalIdentity().ID))

	msg := types.NewMessage(wire.NewMessageID(), types.MessageData, idA.LocalIdentity(), remote, []byte("over the wire"))
	require.NoError(t, a.Send(context.Background(), remote.ID, msg))

	select {
	case got := <-msgsB:
		assert.Equal(t, idA.LocalIdentity().ID, got.from)
		assert.Equal(t, msg.ID, got.msg.ID)
		assert.Equal(t, []byte("over the wire"), got.msg.Payload)
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}

	reply := types.NewMessage(wire.NewMessageID(), types.MessagePong, idB.LocalIdentity(), idA.LocalIdentity(), nil)
	require.NoError(t, b.Send(context.Background(), idA.LocalIdentity().ID, reply))
	select {
	case got := <-msgsA:
		assert.Equal(t, types.MessagePong, got.msg.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("reply not delivered")
	}

	// 已知 ID 的重复连接复用已有连接
	again, err := a.Connect(context.Background(), types.NewPeerRecord(remote, b.ListenAddress()))
	require.NoError(t, err)
	assert.Equal(t, remote, again)
	assert.Len(t, a.ConnectedPeers(), 1)
}

// TestConnect_PeerIDMismatch 测试期望身份不符时拒绝连接
func TestConnect_PeerIDMismatch(t *testing.T) {
	a, _, _, _ := newTestTransport(t, NewConfig())
	b, _, _, _ := newTestTransport(t, NewConfig())

	other, err := identity.Generate()
	require.NoError(t, err)

	_, err = a.Connect(context.Background(), types.NewPeerRecord(other.LocalIdentity(), b.ListenAddress()))
	assert.ErrorIs(t, err, transport.ErrPeerIDMismatch)
	assert.Empty(t, a.ConnectedPeers())
}

// TestConnect_Unreachable 测试连接不可达地址
func TestConnect_Unreachable(t *testing.T) {
	a, _, _, _ := newTestTransport(t, NewConfig())

	_, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, "127.0.0.1:1"))
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	_, err = a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}))
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	err = a.Send(context.Background(), types.PeerID("nobody"), &types.Message{ID: "x"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

// TestDisconnect 测试断开后双方收到通知
func TestDisconnect(t *testing.T) {
	a, _, _, eventsA := newTestTransport(t, NewConfig())
	b, _, _, eventsB := newTestTransport(t, NewConfig())

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	require.True(t, waitEvent(t, eventsA))
	require.True(t, waitEvent(t, eventsB))

	require.NoError(t, a.Disconnect(remote.ID))
	assert.False(t, waitEvent(t, eventsA))
	assert.False(t, waitEvent(t, eventsB))
	assert.False(t, a.IsConnected(remote.ID))

	require.Eventually(t, func() bool { return len(b.ConnectedPeers()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

// TestStopListening_FromHandler 测试在读循环的回调中停止监听不会阻塞
func TestStopListening_FromHandler(t *testing.T) {
	a, idA, _, eventsA := newTestTransport(t, NewConfig())
	b, _, _, eventsB := newTestTransport(t, NewConfig())

	stopped := make(chan error, 1)
	b.SetMessageHandler(func(types.PeerID, *types.Message) {
		stopped <- b.StopListening()
	})

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	assert.True(t, waitEvent(t, eventsA))
	assert.True(t, waitEvent(t, eventsB))

	msg := types.NewMessage(wire.NewMessageID(), types.MessageData, idA.LocalIdentity(), remote, []byte("stop"))
	require.NoError(t, a.Send(context.Background(), remote.ID, msg))

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("StopListening blocked inside message handler")
	}
	assert.Empty(t, b.ListenAddress())
	assert.False(t, waitEvent(t, eventsA))
	require.Eventually(t, func() bool { return len(b.ConnectedPeers()) == 0 }, 5*time.Second, 10*time.Millisecond)
}

// TestInboundRateLimit 测试入站限速丢弃超额消息
func TestInboundRateLimit(t *testing.T) {
	cfg := NewConfig()
	cfg.InboundRate = 0.001
	cfg.InboundBurst = 2

	a, idA, _, _ := newTestTransport(t, NewConfig())
	b, _, msgsB, _ := newTestTransport(t, cfg)

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg := types.NewMessage(wire.NewMessageID(), types.MessageData, idA.LocalIdentity(), remote, []byte{byte(i)})
		require.NoError(t, a.Send(context.Background(), remote.ID, msg))
	}

	got := 0
	timeout := time.After(time.Second)
loop:
	for {
		select {
		case <-msgsB:
			got++
		case <-timeout:
			break loop
		}
	}
	assert.Equal(t, 2, got)
}

// TestVerifyHello 测试 hello 校验
func TestVerifyHello(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	tr := New(NewConfig(), id)

	challenge := []byte("0123456789abcdef0123456789abcdef")
	data, err := tr.signedHello(challenge)
	require.NoError(t, err)
	msg, err := tr.codec.Unmarshal(data)
	require.NoError(t, err)

	got, err := verifyHello(msg, challenge)
	require.NoError(t, err)
	assert.Equal(t, id.LocalIdentity(), got)

	_, err = verifyHello(msg, []byte("ffffffffffffffffffffffffffffffff"))
	assert.ErrorIs(t, err, transport.ErrHandshake)

	tampered := msg.Clone()
	tampered.Timestamp++
	_, err = verifyHello(tampered, challenge)
	assert.ErrorIs(t, err, transport.ErrHandshake)

	forged := msg.Clone()
	other, _ := identity.Generate()
	forged.From.ID = other.LocalIdentity().ID
	_, err = verifyHello(forged, challenge)
	assert.ErrorIs(t, err, transport.ErrHandshake)
}
