package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/pkg/types"
)

func testIdentity(c string) types.PeerIdentity {
	return types.PeerIdentity{ID: types.PeerID(strings.Repeat(c, 64)), PublicKey: "pk-" + c}
}

type received struct {
	from types.PeerID
	msg  *types.Message
}

type connEvent struct {
	peer      types.PeerID
	connected bool
}

type recorder struct {
	mu       sync.Mutex
	messages chan received
	events   []connEvent
}

func newRecorder(t *Transport) *recorder {
	r := &recorder{messages: make(chan received, 16)}
	t.SetMessageHandler(func(from types.PeerID, msg *types.Message) {
		r.messages <- received{from, msg}
	})
	t.SetConnectionHandler(func(peer types.PeerIdentity, connected bool) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, connEvent{peer.ID, connected})
	})
	return r
}

func (r *recorder) connEvents() []connEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]connEvent(nil), r.events...)
}

func listen(t *testing.T, hub *Hub, c string) *Transport {
	t.Helper()
	tr := hub.NewTransport(testIdentity(c))
	require.NoError(t, tr.Listen(context.Background(), ""))
	t.Cleanup(func() { _ = tr.StopListening() })
	return tr
}

// TestListen_AutoAddress 测试自动分配地址
func TestListen_AutoAddress(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := hub.NewTransport(testIdentity("b"))
	require.NoError(t, b.Listen(context.Background(), "127.0.0.1:0"))
	defer b.StopListening()

	assert.True(t, strings.HasPrefix(a.ListenAddress(), "mem-"))
	assert.NotEqual(t, a.ListenAddress(), b.ListenAddress())
	assert.Equal(t, 2, hub.Listeners())

	assert.ErrorIs(t, a.Listen(context.Background(), ""), transport.ErrAlreadyListening)

	c := hub.NewTransport(testIdentity("c"))
	assert.ErrorIs(t, c.Listen(context.Background(), a.ListenAddress()), transport.ErrInvalidAddress)
}

// TestConnectSendReceive 测试连接与消息投递
func TestConnectSendReceive(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")
	ra := newRecorder(a)
	rb := newRecorder(b)

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	assert.Equal(t, b.LocalIdentity(), remote)
	assert.True(t, a.IsConnected(remote.ID))
	assert.True(t, b.IsConnected(a.LocalIdentity().ID))
	assert.Equal(t, []connEvent{{remote.ID, true}}, ra.connEvents())
	assert.Equal(t, []connEvent{{a.LocalIdentity().ID, true}}, rb.connEvents())

	msg := types.NewMessage("m1", types.MessageData, a.LocalIdentity(), remote, []byte("hello"))
	require.NoError(t, a.Send(context.Background(), remote.ID, msg))

	select {
	case got := <-rb.messages:
		assert.Equal(t, a.LocalIdentity().ID, got.from)
		assert.Equal(t, "m1", got.msg.ID)
		assert.Equal(t, []byte("hello"), got.msg.Payload)
		assert.Equal(t, types.MessageData, got.msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	// 重复连接不再触发回调
	_, err = a.Connect(context.Background(), types.NewPeerRecord(remote, b.ListenAddress()))
	require.NoError(t, err)
	assert.Len(t, ra.connEvents(), 1)
}

// TestStopListening_FromHandler 测试在回调中停止监听不会阻塞
func TestStopListening_FromHandler(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")

	stopped := make(chan error, 1)
	b.SetMessageHandler(func(types.PeerID, *types.Message) {
		stopped <- b.StopListening()
	})

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	msg := types.NewMessage("m1", types.MessageData, a.LocalIdentity(), remote, []byte("stop"))
	require.NoError(t, a.Send(context.Background(), remote.ID, msg))

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StopListening blocked inside message handler")
	}
	assert.False(t, a.IsConnected(remote.ID))
	assert.Equal(t, 1, hub.Listeners())

	// 连接回调中同样可以停止
	c := listen(t, hub, "c")
	c.SetConnectionHandler(func(_ types.PeerIdentity, connected bool) {
		if connected {
			stopped <- c.StopListening()
		}
	})
	_, _ = a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, c.ListenAddress()))
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("StopListening blocked inside connection handler")
	}
	assert.Equal(t, 1, hub.Listeners())
}

// TestConnect_Errors 测试连接错误
func TestConnect_Errors(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")

	_, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, "mem-404"))
	assert.ErrorIs(t, err, transport.ErrUnreachable)

	_, err = a.Connect(context.Background(), types.NewPeerRecord(testIdentity("c"), b.ListenAddress()))
	assert.ErrorIs(t, err, transport.ErrPeerIDMismatch)

	_, err = a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, a.ListenAddress()))
	assert.ErrorIs(t, err, transport.ErrSelfDial)

	_, err = a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}))
	assert.ErrorIs(t, err, transport.ErrInvalidAddress)

	idle := hub.NewTransport(testIdentity("d"))
	_, err = idle.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	assert.ErrorIs(t, err, transport.ErrNotListening)

	err = a.Send(context.Background(), testIdentity("b").ID, &types.Message{ID: "x"})
	assert.ErrorIs(t, err, transport.ErrNotConnected)
}

// TestDisconnect 测试断开连接双方都收到通知
func TestDisconnect(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")
	ra := newRecorder(a)
	rb := newRecorder(b)

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)

	require.NoError(t, b.Disconnect(a.LocalIdentity().ID))
	assert.False(t, a.IsConnected(remote.ID))
	assert.Empty(t, b.ConnectedPeers())
	assert.Equal(t, connEvent{remote.ID, false}, ra.connEvents()[1])
	assert.Equal(t, connEvent{a.LocalIdentity().ID, false}, rb.connEvents()[1])

	// 未连接时断开为空操作
	require.NoError(t, b.Disconnect(a.LocalIdentity().ID))
	assert.Len(t, rb.connEvents(), 2)
}

// TestStopListening 测试停止监听断开全部连接
func TestStopListening(t *testing.T) {
	hub := NewHub()
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")
	c := listen(t, hub, "c")
	rb := newRecorder(b)

	_, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)
	_, err = c.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, a.ListenAddress()))
	require.NoError(t, err)
	assert.Equal(t, []types.PeerID{b.LocalIdentity().ID, c.LocalIdentity().ID}, a.ConnectedPeers())

	require.NoError(t, a.StopListening())
	assert.Empty(t, a.ConnectedPeers())
	assert.False(t, b.IsConnected(a.LocalIdentity().ID))
	assert.False(t, c.IsConnected(a.LocalIdentity().ID))
	assert.Contains(t, rb.connEvents(), connEvent{a.LocalIdentity().ID, false})
	assert.Equal(t, 2, hub.Listeners())

	// 可重复调用
	require.NoError(t, a.StopListening())
}

// TestSend_QueueFull 测试接收队列满时丢弃
func TestSend_QueueFull(t *testing.T) {
	hub := NewHub(WithQueueSize(1))
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")

	release := make(chan struct{})
	b.SetMessageHandler(func(types.PeerID, *types.Message) { <-release })
	defer close(release)

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)

	var full error
	for i := 0; i < 10 && full == nil; i++ {
		full = a.Send(context.Background(), remote.ID, &types.Message{ID: "m", Type: types.MessageData})
	}
	assert.ErrorIs(t, full, transport.ErrQueueFull)
}

// TestSend_TooLarge 测试超过大小限制的消息被拒绝
func TestSend_TooLarge(t *testing.T) {
	hub := NewHub(WithMaxMessageSize(64))
	a := listen(t, hub, "a")
	b := listen(t, hub, "b")

	remote, err := a.Connect(context.Background(), types.NewPeerRecord(types.PeerIdentity{}, b.ListenAddress()))
	require.NoError(t, err)

	err = a.Send(context.Background(), remote.ID, &types.Message{ID: "m", Type: types.MessageData, Payload: []byte(strings.Repeat("x", 200))})
	assert.Error(t, err)
}
