package overlay

import (
	"context"
	"fmt"

	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              节点管理
// ============================================================================

// Connect 连接到节点，成功后加入路由表
//
// 记录中的 ID 可以为空，此时以握手得到的身份为准。
// 超过 MaxConnections 时连接被断开，返回 ErrConnectionRejected。
func (n *Node) Connect(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error) {
	remote, err := n.transport.Connect(ctx, peer)
	if err != nil {
		return types.PeerIdentity{}, opError("connect", err)
	}
	// 连接回调可能因连接数上限已将其断开
	if !n.transport.IsConnected(remote.ID) {
		return types.PeerIdentity{}, opError("connect",
			fmt.Errorf("%w: %s", ErrConnectionRejected, remote.ID.ShortString()))
	}

	rec := peer.Clone()
	if existing, ok := n.routing.GetPeer(remote.ID); ok {
		existing.Addresses = mergeAddresses(peer.Addresses, existing.Addresses)
		rec = existing
	}
	rec.Identity = remote
	n.routing.AddPeer(rec)

	logger.Debug("已连接节点", "peer", remote.ID.ShortString(), "addr", peer.PrimaryAddress())
	return remote, nil
}

// ConnectAddr 按地址连接节点
func (n *Node) ConnectAddr(ctx context.Context, address string) (types.PeerIdentity, error) {
	return n.Connect(ctx, types.NewPeerRecord(types.PeerIdentity{}, address))
}

// Disconnect 断开连接并从路由表移除
func (n *Node) Disconnect(peer types.PeerID) error {
	err := n.transport.Disconnect(peer)
	n.routing.RemovePeer(peer)
	n.limiters.Remove(peer)
	return opError("disconnect", err)
}

// ConnectedPeers 返回已连接节点
func (n *Node) ConnectedPeers() []types.PeerID {
	return n.transport.ConnectedPeers()
}

// IsConnected 检查是否已连接
func (n *Node) IsConnected(peer types.PeerID) bool {
	return n.transport.IsConnected(peer)
}

// KnownPeers 返回路由表中的全部节点
func (n *Node) KnownPeers() []*types.PeerRecord {
	return n.routing.AllPeers()
}

// FindPeer 在路由表中查找节点
func (n *Node) FindPeer(id types.PeerID) (*types.PeerRecord, bool) {
	return n.routing.GetPeer(id)
}

// ClosestPeers 返回距离 key 最近的已知节点
func (n *Node) ClosestPeers(key string, count int) []*types.PeerRecord {
	return n.routing.ClosestPeers(key, count)
}

// ============================================================================
//                              内部实现
// ============================================================================

// handleConnection 传输层连接变化回调
func (n *Node) handleConnection(peer types.PeerIdentity, connected bool) {
	defer n.enter()()
	if connected {
		if len(n.transport.ConnectedPeers()) > n.cfg.MaxConnections {
			logger.Warn("超过最大连接数，断开新连接", "peer", peer.ID.ShortString(), "max", n.cfg.MaxConnections)
			_ = n.transport.Disconnect(peer.ID)
			return
		}
		if !n.routing.Touch(peer.ID) {
			rec := types.NewPeerRecord(peer)
			n.routing.AddPeer(rec)
		}
		n.sendPing(peer.ID)
	} else {
		n.limiters.Remove(peer.ID)
	}

	logger.Debug("连接状态变化", "peer", peer.ID.ShortString(), "connected", connected)
	n.updatePeerGauges()
	if h := n.peerChangeHandler(); h != nil {
		h(peer, connected)
	}
}

// bootstrap 连接配置的引导节点
func (n *Node) bootstrap(ctx context.Context) {
	for _, addr := range n.cfg.BootstrapPeers {
		if addr == "" || addr == n.transport.ListenAddress() {
			continue
		}
		if _, err := n.ConnectAddr(ctx, addr); err != nil {
			logger.Warn("连接引导节点失败", "addr", addr, "err", err)
		}
	}
}

// announce 本地 PING/PONG 负载
func (n *Node) announce() wire.Announce {
	a := wire.Announce{
		DisplayName:     n.cfg.NodeName,
		ProtocolVersion: ProtocolVersion,
		IsRelay:         n.cfg.EnableRelay,
	}
	if addr := n.transport.ListenAddress(); addr != "" {
		a.Addresses = []string{addr}
	}
	return a
}

// observeAnnounce 用 PING/PONG 携带的信息更新路由表
func (n *Node) observeAnnounce(from types.PeerIdentity, a wire.Announce) {
	rec, ok := n.routing.GetPeer(from.ID)
	if !ok {
		rec = types.NewPeerRecord(from)
	}
	rec.Identity = from
	if len(a.Addresses) > 0 {
		rec.Addresses = mergeAddresses(a.Addresses, rec.Addresses)
	}
	if a.DisplayName != "" {
		rec.DisplayName = a.DisplayName
	}
	if a.ProtocolVersion != "" {
		rec.ProtocolVersion = a.ProtocolVersion
	}
	rec.IsRelay = a.IsRelay
	n.routing.AddPeer(rec)
}

func (n *Node) updatePeerGauges() {
	n.metrics.SetPeers(len(n.transport.ConnectedPeers()), n.routing.Size())
}

// mergeAddresses 合并地址列表，primary 在前并去重
func mergeAddresses(primary, rest []string) []string {
	seen := make(map[string]struct{}, len(primary)+len(rest))
	out := make([]string, 0, len(primary)+len(rest))
	for _, list := range [][]string{primary, rest} {
		for _, addr := range list {
			if addr == "" {
				continue
			}
			if _, ok := seen[addr]; ok {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}
