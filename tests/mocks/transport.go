package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// SendCall Send 调用记录
type SendCall struct {
	Peer    types.PeerID
	Message *types.Message
}

// MockTransport 模拟 Transport 接口实现
type MockTransport struct {
	// 基本属性
	Address string

	// 可覆盖的方法
	ListenFunc        func(ctx context.Context, address string) error
	StopListeningFunc func() error
	ConnectFunc       func(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error)
	DisconnectFunc    func(peer types.PeerID) error
	SendFunc          func(ctx context.Context, peer types.PeerID, msg *types.Message) error

	// 调用记录
	ConnectCalls []*types.PeerRecord
	SendCalls    []SendCall

	mu        sync.Mutex
	listening bool
	peers     map[types.PeerID]types.PeerIdentity
	onMessage interfaces.MessageHandler
	onConn    interfaces.ConnectionHandler
}

var _ interfaces.Transport = (*MockTransport)(nil)

// NewMockTransport 创建带有默认值的 MockTransport
func NewMockTransport(address string) *MockTransport {
	return &MockTransport{
		Address: address,
		peers:   make(map[types.PeerID]types.PeerIdentity),
	}
}

// Listen 开始监听
func (m *MockTransport) Listen(ctx context.Context, address string) error {
	if m.ListenFunc != nil {
		if err := m.ListenFunc(ctx, address); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listening = true
	return nil
}

// StopListening 停止监听并清空连接
func (m *MockTransport) StopListening() error {
	m.mu.Lock()
	m.listening = false
	m.peers = make(map[types.PeerID]types.PeerIdentity)
	m.mu.Unlock()

	if m.StopListeningFunc != nil {
		return m.StopListeningFunc()
	}
	return nil
}

// ListenAddress 返回监听地址
func (m *MockTransport) ListenAddress() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.listening {
		return ""
	}
	return m.Address
}

// Connect 连接对端
//
// 未设置 ConnectFunc 时直接以记录中的身份视为连接成功。
func (m *MockTransport) Connect(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error) {
	m.mu.Lock()
	m.ConnectCalls = append(m.ConnectCalls, peer.Clone())
	m.mu.Unlock()

	remote := peer.Identity
	if m.ConnectFunc != nil {
		var err error
		if remote, err = m.ConnectFunc(ctx, peer); err != nil {
			return types.PeerIdentity{}, err
		}
	}

	m.mu.Lock()
	m.peers[remote.ID] = remote
	m.mu.Unlock()
	return remote, nil
}

// Disconnect 断开对端
func (m *MockTransport) Disconnect(peer types.PeerID) error {
	m.mu.Lock()
	delete(m.peers, peer)
	m.mu.Unlock()

	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(peer)
	}
	return nil
}

// Send 记录发送的消息
func (m *MockTransport) Send(ctx context.Context, peer types.PeerID, msg *types.Message) error {
	m.mu.Lock()
	m.SendCalls = append(m.SendCalls, SendCall{Peer: peer, Message: msg.Clone()})
	m.mu.Unlock()

	if m.SendFunc != nil {
		return m.SendFunc(ctx, peer, msg)
	}
	return nil
}

// IsConnected 检查是否已连接
func (m *MockTransport) IsConnected(peer types.PeerID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.peers[peer]
	return ok
}

// ConnectedPeers 返回已连接对端
func (m *MockTransport) ConnectedPeers() []types.PeerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.PeerID, 0, len(m.peers))
	for id := range m.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SetMessageHandler 注册入站消息回调
func (m *MockTransport) SetMessageHandler(h interfaces.MessageHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onMessage = h
}

// SetConnectionHandler 注册连接状态回调
func (m *MockTransport) SetConnectionHandler(h interfaces.ConnectionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConn = h
}

// ============================================================================
//                              测试驱动
// ============================================================================

// DeliverMessage 模拟收到入站消息
func (m *MockTransport) DeliverMessage(from types.PeerID, msg *types.Message) {
	m.mu.Lock()
	h := m.onMessage
	m.mu.Unlock()
	if h != nil {
		h(from, msg)
	}
}

// DeliverConnection 模拟连接状态变化
func (m *MockTransport) DeliverConnection(peer types.PeerIdentity, connected bool) {
	m.mu.Lock()
	if connected {
		m.peers[peer.ID] = peer
	} else {
		delete(m.peers, peer.ID)
	}
	h := m.onConn
	m.mu.Unlock()
	if h != nil {
		h(peer, connected)
	}
}

// Sent 返回发送记录的副本
func (m *MockTransport) Sent() []SendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendCall(nil), m.SendCalls...)
}
