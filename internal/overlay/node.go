// Package overlay 实现覆盖网络节点
//
// Node 组合路由表、值存储、广播与共识协议，是唯一接触传输层的组件。
//
// # 生命周期
//
//	Start: 注册传输回调 -> 监听 -> 启动后台循环 -> 连接引导节点
//	Stop:  取消后台循环并等待退出 -> 停止监听
//
// 后台循环：
//
//   - discovery：向随机已知节点发送 FIND_NODE，驱逐陈旧节点，清理过期记录，补足连接
//   - heartbeat：向所有已连接节点发送 PING
//   - sweep：将超过截止时间的共识轮次置为失败
//
// # 入站处理
//
// 所有入站消息先经过限速与信封校验（发送方、ID 与公钥绑定、签名、TTL），
// 不合法的消息被静默丢弃，再按类型分发到对应组件。
package overlay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/discovery/dht"
	"github.com/dep2p/go-meshnet/internal/protocol/consensus"
	"github.com/dep2p/go-meshnet/internal/protocol/pubsub"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var logger = log.Logger("overlay")

// ProtocolVersion 节点协议版本
const ProtocolVersion = "meshnet/1.0.0"

const (
	// limiterCacheSize 入站限速器缓存上限
	limiterCacheSize = 4096

	// limiterIdleTTL 限速器空闲淘汰时间
	limiterIdleTTL = 10 * time.Minute

	// minSweepInterval 共识超时扫描的最小间隔
	minSweepInterval = time.Second
)

// MessageHandler DATA 消息回调，payload 为解密后的负载
type MessageHandler func(from types.PeerIdentity, payload []byte)

// PeerChangeHandler 连接变化回调
type PeerChangeHandler func(peer types.PeerIdentity, connected bool)

// ProposalHandler 收到远端提案时的回调
type ProposalHandler func(roundID uint64, proposer types.PeerIdentity, value []byte)

// Option 节点选项
type Option func(*Node)

// WithClock 使用指定时钟
func WithClock(c clock.Clock) Option {
	return func(n *Node) {
		n.clock = c
	}
}

// WithMetrics 使用指定计数器
func WithMetrics(m *metrics.Metrics) Option {
	return func(n *Node) {
		n.metrics = m
	}
}

// ============================================================================
//                              Node
// ============================================================================

// Node 覆盖网络节点
type Node struct {
	cfg       *config.Config
	identity  interfaces.IdentityProvider
	transport interfaces.Transport
	clock     clock.Clock
	metrics   *metrics.Metrics
	local     types.PeerIdentity

	routing   *dht.RoutingTable
	records   *dht.RecordStore
	gossip    *pubsub.Gossip
	consensus *consensus.Protocol
	limiters  *expirable.LRU[types.PeerID, *rate.Limiter]

	lifecycleMu sync.Mutex
	started     atomic.Bool
	stopping    atomic.Bool
	startedAt   atomic.Pointer[time.Time]
	cancel      context.CancelFunc
	group       *errgroup.Group

	// callbacks 正在执行的入站处理与回调数，非零时 Stop 不等待后台循环
	callbacks atomic.Int32

	handlerMu    sync.RWMutex
	onMessage    MessageHandler
	onPeerChange PeerChangeHandler
	onProposal   ProposalHandler
}

// New 创建节点
func New(cfg *config.Config, id interfaces.IdentityProvider, tr interfaces.Transport, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, opError("new", err)
	}
	if id == nil {
		return nil, opError("new", ErrNilIdentity)
	}
	if tr == nil {
		return nil, opError("new", ErrNilTransport)
	}

	n := &Node{
		cfg:       cfg,
		identity:  id,
		transport: tr,
		clock:     clock.New(),
		local:     id.LocalIdentity(),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.metrics == nil {
		n.metrics = metrics.New(nil)
	}

	n.routing = dht.NewRoutingTable(n.local, dht.WithClock(n.clock))
	n.records = dht.NewRecordStore(cfg.DHT.MaxRecords, cfg.DHT.RecordTTL.Duration(), dht.WithClock(n.clock))

	gossip, err := pubsub.New(n.local, pubsub.Config{
		Fanout:      cfg.Gossip.Fanout,
		HistorySize: cfg.Gossip.HistorySize,
	}, pubsub.WithClock(n.clock))
	if err != nil {
		return nil, opError("new", err)
	}
	n.gossip = gossip

	cons, err := consensus.New(n.local, id.Hash, consensus.Config{
		QuorumThreshold: cfg.Consensus.QuorumThreshold,
		RoundTimeout:    cfg.Consensus.RoundTimeout.Duration(),
	}, consensus.WithClock(n.clock), consensus.WithFinishHandler(n.onRoundFinished))
	if err != nil {
		return nil, opError("new", err)
	}
	n.consensus = cons

	n.limiters = expirable.NewLRU[types.PeerID, *rate.Limiter](limiterCacheSize, nil, limiterIdleTTL)
	return n, nil
}

// Start 监听并启动后台循环，已启动时为空操作
func (n *Node) Start(ctx context.Context) error {
	n.lifecycleMu.Lock()
	if n.started.Load() {
		n.lifecycleMu.Unlock()
		return nil
	}

	n.transport.SetMessageHandler(n.handleMessage)
	n.transport.SetConnectionHandler(n.handleConnection)
	if err := n.transport.Listen(ctx, n.cfg.ListenAddress); err != nil {
		n.lifecycleMu.Unlock()
		return opError("start", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error { return n.discoveryLoop(gctx) })
	g.Go(func() error { return n.heartbeatLoop(gctx) })
	g.Go(func() error { return n.sweepLoop(gctx) })

	n.cancel = cancel
	n.group = g
	now := n.clock.Now()
	n.startedAt.Store(&now)
	n.started.Store(true)
	n.lifecycleMu.Unlock()

	logger.Info("节点已启动",
		"peer", n.local.ID.ShortString(),
		"name", n.cfg.NodeName,
		"addr", n.transport.ListenAddress())

	// 引导连接会触发连接回调，在锁外进行
	n.bootstrap(ctx)
	return nil
}

// Stop 停止后台循环与传输，未启动时为空操作
//
// 可以在任意回调中调用。回调中调用时不等待后台循环退出。
func (n *Node) Stop(_ context.Context) error {
	if !n.stopping.CompareAndSwap(false, true) {
		return nil
	}
	defer n.stopping.Store(false)

	n.lifecycleMu.Lock()
	defer n.lifecycleMu.Unlock()

	if !n.started.Load() {
		return nil
	}
	n.started.Store(false)

	n.cancel()
	var err error
	if n.callbacks.Load() == 0 {
		err = n.group.Wait()
	}
	err = multierr.Append(err, n.transport.StopListening())
	n.cancel = nil
	n.group = nil

	logger.Info("节点已停止", "peer", n.local.ID.ShortString())
	return opError("stop", err)
}

// enter 标记进入入站处理或回调路径，返回的函数用于退出
func (n *Node) enter() func() {
	n.callbacks.Add(1)
	return func() { n.callbacks.Add(-1) }
}

// IsStarted 是否已启动
func (n *Node) IsStarted() bool {
	return n.started.Load()
}

// ============================================================================
//                              查询
// ============================================================================

// LocalID 返回本地节点 ID
func (n *Node) LocalID() types.PeerID {
	return n.local.ID
}

// LocalIdentity 返回本地身份
func (n *Node) LocalIdentity() types.PeerIdentity {
	return n.local
}

// LocalInfo 返回本地节点记录
func (n *Node) LocalInfo() *types.PeerRecord {
	r := types.NewPeerRecord(n.local)
	if addr := n.transport.ListenAddress(); addr != "" {
		r.Addresses = []string{addr}
	}
	r.DisplayName = n.cfg.NodeName
	r.ProtocolVersion = ProtocolVersion
	r.IsRelay = n.cfg.EnableRelay
	r.LastSeen = n.clock.Now()
	return r
}

// ListenAddress 返回传输监听地址
func (n *Node) ListenAddress() string {
	return n.transport.ListenAddress()
}

// Stats 节点统计
type Stats struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	MessagesDropped  int64
	ConnectedPeers   int
	KnownPeers       int
	StoredRecords    int
	ActiveRounds     int
	StartedAt        time.Time
}

// Stats 返回统计快照
func (n *Node) Stats() Stats {
	snap := n.metrics.Snapshot()

	var startedAt time.Time
	if t := n.startedAt.Load(); t != nil {
		startedAt = *t
	}

	return Stats{
		MessagesSent:     snap.MessagesSent,
		MessagesReceived: snap.MessagesReceived,
		BytesSent:        snap.BytesSent,
		BytesReceived:    snap.BytesReceived,
		MessagesDropped:  snap.Dropped,
		ConnectedPeers:   len(n.transport.ConnectedPeers()),
		KnownPeers:       n.routing.Size(),
		StoredRecords:    n.records.Size(),
		ActiveRounds:     n.consensus.ActiveRounds(),
		StartedAt:        startedAt,
	}
}

// ============================================================================
//                              回调注册
// ============================================================================

// OnMessage 注册 DATA 消息回调
func (n *Node) OnMessage(h MessageHandler) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onMessage = h
}

// OnPeerChange 注册连接变化回调
func (n *Node) OnPeerChange(h PeerChangeHandler) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onPeerChange = h
}

// OnProposal 注册远端提案回调，通常在回调中调用 VoteConsensus
func (n *Node) OnProposal(h ProposalHandler) {
	n.handlerMu.Lock()
	defer n.handlerMu.Unlock()
	n.onProposal = h
}

func (n *Node) messageHandler() MessageHandler {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.onMessage
}

func (n *Node) peerChangeHandler() PeerChangeHandler {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.onPeerChange
}

func (n *Node) proposalHandler() ProposalHandler {
	n.handlerMu.RLock()
	defer n.handlerMu.RUnlock()
	return n.onProposal
}

// replyContext 入站处理中发送回复使用的上下文
func (n *Node) replyContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), n.cfg.Transport.DialTimeout.Duration())
}
