package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// delivery 队列中的一条已编码消息
type delivery struct {
	from types.PeerID
	data []byte
}

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport 进程内传输
type Transport struct {
	hub   *Hub
	local types.PeerIdentity

	mu        sync.RWMutex
	address   string
	listening bool
	peers     map[types.PeerID]*Transport
	inbox     chan delivery
	done      chan struct{}
	wg        sync.WaitGroup
	handling  atomic.Int32 // 正在执行的回调数

	handlerMu sync.RWMutex
	onMessage interfaces.MessageHandler
	onConn    interfaces.ConnectionHandler
}

// 确保实现 interfaces.Transport 接口
var _ interfaces.Transport = (*Transport)(nil)

func newTransport(hub *Hub, local types.PeerIdentity) *Transport {
	return &Transport{
		hub:   hub,
		local: local,
		peers: make(map[types.PeerID]*Transport),
	}
}

// LocalIdentity 返回本地身份
func (t *Transport) LocalIdentity() types.PeerIdentity {
	return t.local
}

// Listen 在 Hub 上注册地址并启动投递 goroutine
//
// 地址为空或以 ":0" 结尾时分配 "mem-N"。
func (t *Transport) Listen(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.listening {
		return transport.ErrAlreadyListening
	}

	address = t.hub.resolveAddress(address)
	if err := t.hub.register(address, t); err != nil {
		return err
	}

	t.address = address
	t.listening = true
	t.inbox = make(chan delivery, t.hub.queueSize)
	t.done = make(chan struct{})

	t.wg.Add(1)
	go t.deliverLoop(t.inbox, t.done)

	logger.Debug("内存传输开始监听", "addr", address, "peer", t.local.ID.ShortString())
	return nil
}

// StopListening 注销地址、断开所有连接并等待投递 goroutine 退出
//
// 在消息或连接回调中调用时不等待，投递 goroutine 在回调返回后退出。
func (t *Transport) StopListening() error {
	t.mu.Lock()
	if !t.listening {
		t.mu.Unlock()
		return nil
	}
	t.listening = false
	t.hub.unregister(t.address, t)
	close(t.done)
	peers := t.peers
	t.peers = make(map[types.PeerID]*Transport)
	t.mu.Unlock()

	for id, remote := range peers {
		remote.unlink(t.local.ID)
		remote.notifyConn(t.local, false)
		t.notifyConn(remote.local, false)
		logger.Debug("连接已关闭", "peer", id.ShortString())
	}

	if t.handling.Load() == 0 {
		t.wg.Wait()
	}
	return nil
}

// ListenAddress 返回监听地址
func (t *Transport) ListenAddress() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.address
}

// Connect 按记录的首个地址连接对端
//
// 记录中带有 ID 时校验对端身份。重复连接直接返回对端身份。
func (t *Transport) Connect(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error) {
	if err := ctx.Err(); err != nil {
		return types.PeerIdentity{}, err
	}
	if peer == nil || peer.PrimaryAddress() == "" {
		return types.PeerIdentity{}, transport.ErrInvalidAddress
	}

	t.mu.RLock()
	listening := t.listening
	t.mu.RUnlock()
	if !listening {
		return types.PeerIdentity{}, transport.ErrNotListening
	}

	remote, ok := t.hub.lookup(peer.PrimaryAddress())
	if !ok {
		return types.PeerIdentity{}, fmt.Errorf("%w: %s", transport.ErrUnreachable, peer.PrimaryAddress())
	}
	if remote == t || remote.local.ID == t.local.ID {
		return types.PeerIdentity{}, transport.ErrSelfDial
	}
	if !peer.ID().IsEmpty() && peer.ID() != remote.local.ID {
		return types.PeerIdentity{}, fmt.Errorf("%w: expected %s, got %s",
			transport.ErrPeerIDMismatch, peer.ID().ShortString(), remote.local.ID.ShortString())
	}

	if !t.link(remote) {
		return remote.local, nil
	}
	if !remote.link(t) {
		t.unlink(remote.local.ID)
		return types.PeerIdentity{}, fmt.Errorf("%w: %s", transport.ErrUnreachable, peer.PrimaryAddress())
	}

	t.notifyConn(remote.local, true)
	remote.notifyConn(t.local, true)
	logger.Debug("内存连接已建立", "local", t.local.ID.ShortString(), "remote", remote.local.ID.ShortString())
	return remote.local, nil
}

// Disconnect 断开与对端的连接，双方都会收到连接回调
func (t *Transport) Disconnect(peer types.PeerID) error {
	remote, ok := t.unlink(peer)
	if !ok {
		return nil
	}
	remote.unlink(t.local.ID)

	t.notifyConn(remote.local, false)
	remote.notifyConn(t.local, false)
	return nil
}

// Send 编码消息并放入对端接收队列
//
// 队列满时返回 ErrQueueFull，消息被丢弃。
func (t *Transport) Send(ctx context.Context, peer types.PeerID, msg *types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	remote, ok := t.peers[peer]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", transport.ErrNotConnected, peer.ShortString())
	}

	data, err := t.hub.codec.Marshal(msg)
	if err != nil {
		return err
	}
	return remote.enqueue(delivery{from: t.local.ID, data: data})
}

// IsConnected 检查是否已连接
func (t *Transport) IsConnected(peer types.PeerID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[peer]
	return ok
}

// ConnectedPeers 返回已连接对端（按 ID 排序）
func (t *Transport) ConnectedPeers() []types.PeerID {
	t.mu.RLock()
	peers := make([]types.PeerID, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	t.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

// SetMessageHandler 注册入站消息回调
func (t *Transport) SetMessageHandler(h interfaces.MessageHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onMessage = h
}

// SetConnectionHandler 注册连接状态回调
func (t *Transport) SetConnectionHandler(h interfaces.ConnectionHandler) {
	t.handlerMu.Lock()
	defer t.handlerMu.Unlock()
	t.onConn = h
}

// ============================================================================
//                              内部实现
// ============================================================================

// link 记录对端，已存在或未监听时返回 false
func (t *Transport) link(remote *Transport) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.listening {
		return false
	}
	if _, exists := t.peers[remote.local.ID]; exists {
		return false
	}
	t.peers[remote.local.ID] = remote
	return true
}

func (t *Transport) unlink(peer types.PeerID) (*Transport, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remote, ok := t.peers[peer]
	if ok {
		delete(t.peers, peer)
	}
	return remote, ok
}

func (t *Transport) enqueue(d delivery) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.listening {
		return transport.ErrNotConnected
	}
	select {
	case t.inbox <- d:
		return nil
	default:
		logger.Warn("接收队列已满，丢弃消息", "peer", t.local.ID.ShortString(), "from", d.from.ShortString())
		return transport.ErrQueueFull
	}
}

func (t *Transport) deliverLoop(inbox <-chan delivery, done <-chan struct{}) {
	defer t.wg.Done()

	for {
		select {
		case <-done:
			return
		case d := <-inbox:
			msg, err := t.hub.codec.Unmarshal(d.data)
			if err != nil {
				logger.Debug("丢弃无法解码的消息", "from", d.from.ShortString(), "err", err)
				continue
			}
			t.handlerMu.RLock()
			h := t.onMessage
			t.handlerMu.RUnlock()
			if h != nil {
				t.handling.Add(1)
				h(d.from, msg)
				t.handling.Add(-1)
			}
		}
	}
}

func (t *Transport) notifyConn(peer types.PeerIdentity, connected bool) {
	t.handlerMu.RLock()
	h := t.onConn
	t.handlerMu.RUnlock()
	if h != nil {
		t.handling.Add(1)
		defer t.handling.Add(-1)
		h(peer, connected)
	}
}
