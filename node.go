package meshnet

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/overlay"
)

const (
	// startTimeout fx App 启动超时
	startTimeout = 30 * time.Second

	// stopTimeout fx App 停止超时
	stopTimeout = 15 * time.Second
)

// Node 覆盖网络节点
//
// 通过 New 或 Start 创建。Start 之前只能注册回调和查询本地信息。
type Node struct {
	config *config.Config
	app    *fx.App

	overlay  *overlay.Node
	recorder *metrics.Recorder

	mu      sync.Mutex
	started bool
	closed  bool
}

// ════════════════════════════════════════════════════════════════════════════
//                              构造函数
// ════════════════════════════════════════════════════════════════════════════

// New 创建节点但不启动
//
// 示例：
//
//	node, err := meshnet.New(
//	    meshnet.WithConfigFile("node.yaml"),
//	    meshnet.WithNodeName("edge-1"),
//	)
func New(opts ...Option) (*Node, error) {
	o := newOptions()
	if err := o.apply(opts); err != nil {
		return nil, err
	}

	node := &Node{config: o.config}
	app, err := buildFxApp(o, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app
	return node, nil
}

// Start 快捷启动函数，等价于 New() + Start()
func Start(ctx context.Context, opts ...Option) (*Node, error) {
	node, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := node.Start(ctx); err != nil {
		return nil, fmt.Errorf("start node: %w", err)
	}
	return node, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动节点：监听、后台循环、连接引导节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := n.app.Start(startCtx); err != nil {
		return err
	}
	n.started = true
	return nil
}

// Stop 停止节点，停止后不能再次启动
//
// 可以在节点的任意回调中调用。
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	started := n.started
	n.started = false
	n.mu.Unlock()

	if !started {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
	defer cancel()
	return n.app.Stop(stopCtx)
}

// IsRunning 节点是否在运行
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started
}

// ════════════════════════════════════════════════════════════════════════════
//                              基本信息
// ════════════════════════════════════════════════════════════════════════════

// ID 返回节点 ID
func (n *Node) ID() PeerID {
	return n.overlay.LocalID()
}

// Identity 返回本地身份
func (n *Node) Identity() PeerIdentity {
	return n.overlay.LocalIdentity()
}

// Info 返回本地节点记录
func (n *Node) Info() *PeerRecord {
	return n.overlay.LocalInfo()
}

// ListenAddress 返回监听地址，未启动时为空
func (n *Node) ListenAddress() string {
	return n.overlay.ListenAddress()
}

// Config 返回节点配置
func (n *Node) Config() *config.Config {
	return n.config
}

// Stats 返回统计快照
func (n *Node) Stats() Stats {
	return n.overlay.Stats()
}

// MetricsHandler 返回 Prometheus 指标的 HTTP 处理器
func (n *Node) MetricsHandler() http.Handler {
	return n.recorder.Handler()
}

// ════════════════════════════════════════════════════════════════════════════
//                              节点管理
// ════════════════════════════════════════════════════════════════════════════

// Connect 按地址连接节点，返回对端身份
func (n *Node) Connect(ctx context.Context, address string) (PeerIdentity, error) {
	if !n.IsRunning() {
		return PeerIdentity{}, ErrNotStarted
	}
	return n.overlay.ConnectAddr(ctx, address)
}

// Disconnect 断开连接并从路由表移除
func (n *Node) Disconnect(peer PeerID) error {
	return n.overlay.Disconnect(peer)
}

// ConnectedPeers 返回已连接节点
func (n *Node) ConnectedPeers() []PeerID {
	return n.overlay.ConnectedPeers()
}

// KnownPeers 返回路由表中的全部节点
func (n *Node) KnownPeers() []*PeerRecord {
	return n.overlay.KnownPeers()
}

// FindPeer 在路由表中查找节点
func (n *Node) FindPeer(id PeerID) (*PeerRecord, bool) {
	return n.overlay.FindPeer(id)
}

// OnPeerChange 注册连接变化回调
func (n *Node) OnPeerChange(h PeerChangeHandler) {
	n.overlay.OnPeerChange(h)
}

// ════════════════════════════════════════════════════════════════════════════
//                              消息
// ════════════════════════════════════════════════════════════════════════════

// Send 向已连接节点发送数据
func (n *Node) Send(ctx context.Context, peer PeerID, data []byte, opts ...SendOption) error {
	if !n.IsRunning() {
		return ErrNotStarted
	}
	return n.overlay.Send(ctx, peer, data, opts...)
}

// SendEncrypted 向已连接节点发送加密数据
func (n *Node) SendEncrypted(ctx context.Context, peer PeerID, data []byte, opts ...SendOption) error {
	if !n.IsRunning() {
		return ErrNotStarted
	}
	return n.overlay.SendEncrypted(ctx, peer, data, opts...)
}

// OnMessage 注册 DATA 消息回调
func (n *Node) OnMessage(h MessageHandler) {
	n.overlay.OnMessage(h)
}

// Subscribe 订阅主题
func (n *Node) Subscribe(topic string, h GossipHandler) error {
	return n.overlay.Subscribe(topic, h)
}

// Unsubscribe 取消订阅
func (n *Node) Unsubscribe(topic string) {
	n.overlay.Unsubscribe(topic)
}

// Broadcast 向主题广播，返回消息 ID
func (n *Node) Broadcast(ctx context.Context, topic string, data []byte) (string, error) {
	if !n.IsRunning() {
		return "", ErrNotStarted
	}
	return n.overlay.Broadcast(ctx, topic, data)
}

// ════════════════════════════════════════════════════════════════════════════
//                              DHT
// ════════════════════════════════════════════════════════════════════════════

// Put 发布记录并复制到最近的已连接节点，返回复制数
func (n *Node) Put(ctx context.Context, key string, value []byte) (int, error) {
	if !n.IsRunning() {
		return 0, ErrNotStarted
	}
	return n.overlay.DHTPut(ctx, key, value)
}

// Get 读取本地记录
func (n *Node) Get(key string) ([]byte, bool) {
	return n.overlay.DHTGet(key)
}

// Record 读取本地完整记录
func (n *Node) Record(key string) (*StoredRecord, bool) {
	return n.overlay.DHTRecord(key)
}

// ════════════════════════════════════════════════════════════════════════════
//                              共识
// ════════════════════════════════════════════════════════════════════════════

// Propose 以全部已连接节点为参与者发起提案，返回轮次 ID
func (n *Node) Propose(ctx context.Context, value []byte, onDecision DecisionFunc) (uint64, error) {
	if !n.IsRunning() {
		return 0, ErrNotStarted
	}
	return n.overlay.ProposeConsensus(ctx, value, onDecision)
}

// Vote 对轮次投票
func (n *Node) Vote(ctx context.Context, roundID uint64, accept bool) error {
	if !n.IsRunning() {
		return ErrNotStarted
	}
	return n.overlay.VoteConsensus(ctx, roundID, accept)
}

// RoundState 返回轮次状态，未知轮次为 StateIdle
func (n *Node) RoundState(roundID uint64) ConsensusState {
	return n.overlay.ConsensusState(roundID)
}

// Round 返回轮次快照
func (n *Node) Round(roundID uint64) (*ConsensusRound, bool) {
	return n.overlay.ConsensusRound(roundID)
}

// OnProposal 注册远端提案回调
func (n *Node) OnProposal(h ProposalHandler) {
	n.overlay.OnProposal(h)
}
