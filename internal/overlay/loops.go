package overlay

import (
	"context"
	"time"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              后台循环
// ============================================================================

// discoveryLoop 发现循环
func (n *Node) discoveryLoop(ctx context.Context) error {
	ticker := n.clock.Ticker(n.cfg.PeerDiscoveryInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.discover(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// heartbeatLoop 心跳循环
func (n *Node) heartbeatLoop(ctx context.Context) error {
	ticker := n.clock.Ticker(n.cfg.HeartbeatInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.heartbeat(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// sweepLoop 共识超时扫描循环
func (n *Node) sweepLoop(ctx context.Context) error {
	ticker := n.clock.Ticker(n.sweepInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.expireRounds()
		case <-ctx.Done():
			return nil
		}
	}
}

// expireRounds 结束超时轮次，决议回调在此 goroutine 上执行
func (n *Node) expireRounds() {
	defer n.enter()()
	if expired := n.consensus.ExpireRounds(); len(expired) > 0 {
		logger.Debug("共识轮次超时", "rounds", expired)
	}
}

func (n *Node) sweepInterval() time.Duration {
	interval := n.cfg.Consensus.RoundTimeout.Duration() / 6
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	return interval
}

// discover 一轮发现
//
//  1. 向随机已连接的已知节点发送 FIND_NODE(本地 ID)
//  2. 驱逐超过 StalePeerAge 未见的节点
//  3. 清理过期记录与已结束的旧轮次
//  4. 已连接数低于 TargetConnections 时连接新节点
func (n *Node) discover(ctx context.Context) {
	for _, rec := range n.routing.RandomPeers(n.cfg.DiscoverySampleSize) {
		if !n.transport.IsConnected(rec.ID()) {
			continue
		}
		if err := n.FindNode(ctx, rec.ID(), string(n.local.ID)); err != nil {
			logger.Debug("发送 FIND_NODE 失败", "peer", rec.ID().ShortString(), "err", err)
		}
	}

	if evicted := n.routing.EvictStale(n.cfg.StalePeerAge.Duration()); evicted > 0 {
		logger.Debug("驱逐陈旧节点", "count", evicted)
	}
	if cleaned := n.records.CleanupExpired(); cleaned > 0 {
		logger.Debug("清理过期记录", "count", cleaned)
	}
	n.consensus.Prune(10 * n.cfg.Consensus.RoundTimeout.Duration())

	n.fillConnections(ctx)

	n.updatePeerGauges()
	n.metrics.SetRecords(n.records.Size())
}

// fillConnections 连接路由表中尚未连接的节点，直到达到目标连接数
func (n *Node) fillConnections(ctx context.Context) {
	missing := n.cfg.TargetConnections - len(n.transport.ConnectedPeers())
	if missing <= 0 {
		return
	}

	for _, rec := range n.routing.RandomPeers(n.routing.Size()) {
		if missing <= 0 || ctx.Err() != nil {
			return
		}
		if n.transport.IsConnected(rec.ID()) || rec.PrimaryAddress() == "" {
			continue
		}
		if _, err := n.Connect(ctx, rec); err != nil {
			logger.Debug("补充连接失败", "peer", rec.ID().ShortString(), "err", err)
			continue
		}
		missing--
	}
}

// heartbeat 向所有已连接节点发送 PING
func (n *Node) heartbeat(ctx context.Context) {
	announce := n.announce()
	for _, peer := range n.transport.ConnectedPeers() {
		if ctx.Err() != nil {
			return
		}
		if err := n.sendPayload(ctx, types.MessagePing, peer, announce); err != nil {
			logger.Debug("心跳发送失败", "peer", peer.ShortString(), "err", err)
		}
	}
}
