package meshnet

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/tests/mocks"
)

func startMemoryNode(t *testing.T, hub *MemoryHub, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithMemoryHub(hub)}, opts...)
	node, err := Start(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Stop(context.Background()) })
	return node
}

// TestNode_Lifecycle 测试启动、重复启动与停止后的状态
func TestNode_Lifecycle(t *testing.T) {
	node, err := New(WithMemoryHub(NewMemoryHub()), WithNodeName("edge-1"))
	require.NoError(t, err)
	assert.False(t, node.IsRunning())
	assert.Empty(t, node.ListenAddress())

	_, err = node.Broadcast(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, node.Start(context.Background()))
	assert.True(t, node.IsRunning())
	assert.NotEmpty(t, node.ListenAddress())
	assert.Equal(t, "edge-1", node.Info().DisplayName)
	assert.ErrorIs(t, node.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, node.Stop(context.Background()))
	require.NoError(t, node.Stop(context.Background()))
	assert.ErrorIs(t, node.Start(context.Background()), ErrNodeClosed)
}

// TestNode_Options 测试选项校验
func TestNode_Options(t *testing.T) {
	_, err := New(WithConfig(nil))
	assert.ErrorIs(t, err, config.ErrNilConfig)

	_, err = New(WithTransport(mocks.NewMockTransport("m")), WithMemoryHub(NewMemoryHub()))
	assert.Error(t, err)

	cfg := config.NewConfig()
	cfg.MaxConnections = 0
	_, err = New(WithConfig(cfg))
	assert.Error(t, err)

	_, err = New(WithIdentitySeed([]byte("short")))
	assert.Error(t, err)
}

// TestNode_IdentitySeed 测试相同种子得到相同身份
func TestNode_IdentitySeed(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, 32)
	a, err := New(WithMemoryHub(NewMemoryHub()), WithIdentitySeed(seed))
	require.NoError(t, err)
	b, err := New(WithMemoryHub(NewMemoryHub()), WithIdentitySeed(seed))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
}

// TestNode_IdentityFile 测试身份文件在重启之间保持不变
func TestNode_IdentityFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.key")
	a, err := New(WithMemoryHub(NewMemoryHub()), WithIdentityFile(path))
	require.NoError(t, err)
	b, err := New(WithMemoryHub(NewMemoryHub()), WithIdentityFile(path))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
}

// TestNode_CustomTransport 测试注入自定义传输
func TestNode_CustomTransport(t *testing.T) {
	tr := mocks.NewMockTransport("mock-addr")
	node, err := Start(context.Background(), WithTransport(tr))
	require.NoError(t, err)
	assert.Equal(t, "mock-addr", node.ListenAddress())
	require.NoError(t, node.Stop(context.Background()))
	assert.Empty(t, tr.ListenAddress())
}

// TestNode_Messaging 测试两个节点之间的发送、广播与记录复制
func TestNode_Messaging(t *testing.T) {
	hub := NewMemoryHub()
	a := startMemoryNode(t, hub)
	b := startMemoryNode(t, hub, WithBootstrapPeers(a.ListenAddress()))
	require.Contains(t, b.ConnectedPeers(), a.ID())

	got := make(chan []byte, 1)
	a.OnMessage(func(from PeerIdentity, payload []byte) {
		if from.ID == b.ID() {
			got <- payload
		}
	})
	require.NoError(t, b.SendEncrypted(context.Background(), a.ID(), []byte("hi"), WithAck()))
	select {
	case payload := <-got:
		assert.Equal(t, []byte("hi"), payload)
	case <-time.After(3 * time.Second):
		t.Fatal("message not delivered")
	}

	topics := make(chan *GossipMessage, 1)
	require.NoError(t, a.Subscribe("alerts", func(msg *GossipMessage) { topics <- msg }))
	_, err := b.Broadcast(context.Background(), "alerts", []byte("fire"))
	require.NoError(t, err)
	select {
	case msg := <-topics:
		assert.Equal(t, []byte("fire"), msg.Payload)
	case <-time.After(3 * time.Second):
		t.Fatal("broadcast not delivered")
	}

	n, err := b.Put(context.Background(), "k", []byte("v"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		v, ok := a.Get("k")
		return ok && string(v) == "v"
	}, 3*time.Second, 10*time.Millisecond)
}

// TestNode_Consensus 测试通过门面完成共识
func TestNode_Consensus(t *testing.T) {
	hub := NewMemoryHub()
	a := startMemoryNode(t, hub)
	b := startMemoryNode(t, hub, WithBootstrapPeers(a.ListenAddress()))
	c := startMemoryNode(t, hub, WithBootstrapPeers(a.ListenAddress()))

	for _, voter := range []*Node{b, c} {
		voter := voter
		voter.OnProposal(func(roundID uint64, _ PeerIdentity, _ []byte) {
			_ = voter.Vote(context.Background(), roundID, true)
		})
	}
	require.Eventually(t, func() bool { return len(a.ConnectedPeers()) == 2 }, 3*time.Second, 10*time.Millisecond)

	decided := make(chan bool, 1)
	id, err := a.Propose(context.Background(), []byte("upgrade"), func(_ []byte, committed bool) {
		decided <- committed
	})
	require.NoError(t, err)

	select {
	case committed := <-decided:
		assert.True(t, committed)
	case <-time.After(3 * time.Second):
		t.Fatal("no decision")
	}
	assert.Equal(t, StateCommitted, a.RoundState(id))
	round, ok := a.Round(id)
	require.True(t, ok)
	assert.Equal(t, 2, round.YesVotes())
}

// TestNode_Metrics 测试指标注册与 HTTP 输出
func TestNode_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	hub := NewMemoryHub()
	a := startMemoryNode(t, hub, WithMetricsRegistry(reg))
	b := startMemoryNode(t, hub)
	_, err := a.Connect(context.Background(), b.ListenAddress())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.Stats().MessagesSent > 0 && a.Stats().MessagesReceived > 0
	}, 3*time.Second, 10*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "meshnet_messages_total")

	rec := httptest.NewRecorder()
	a.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	assert.Contains(t, string(body), "meshnet_connected_peers 1")
}

// TestNode_FxOptions 测试用户 fx 选项可以取得内部组件
func TestNode_FxOptions(t *testing.T) {
	var cfg *config.Config
	node, err := New(
		WithMemoryHub(NewMemoryHub()),
		WithFxOptions(fx.Populate(&cfg)),
		WithFxLogging(true),
	)
	require.NoError(t, err)
	assert.Same(t, node.Config(), cfg)
}

// TestNode_StopFromCallback 测试在消息回调中停止节点
func TestNode_StopFromCallback(t *testing.T) {
	hub := NewMemoryHub()
	a := startMemoryNode(t, hub)
	b := startMemoryNode(t, hub, WithBootstrapPeers(a.ListenAddress()))

	stopped := make(chan error, 1)
	a.OnMessage(func(PeerIdentity, []byte) {
		stopped <- a.Stop(context.Background())
	})
	require.NoError(t, b.Send(context.Background(), a.ID(), []byte("bye")))

	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return inside message handler")
	}
	assert.False(t, a.IsRunning())
	assert.ErrorIs(t, a.Send(context.Background(), b.ID(), nil), ErrNotStarted)
}
