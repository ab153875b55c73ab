package overlay

import (
	"context"
	"time"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/internal/discovery/dht"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              DHT 值存储
// ============================================================================

// DHTPut 以本地身份发布记录，并复制到最近的已连接节点
//
// 本地存储失败（已满）时返回 ErrStoreFull；复制是尽力而为的，
// 返回成功发送 STORE 的节点数。
func (n *Node) DHTPut(ctx context.Context, key string, value []byte) (int, error) {
	if !n.cfg.EnableDHT {
		return 0, opError("dht_put", ErrDHTDisabled)
	}

	now := time.UnixMilli(n.records.Now().UnixMilli())
	rec := wire.Record{
		Key:         key,
		Value:       append([]byte(nil), value...),
		Publisher:   n.local,
		PublishedAt: now.UnixMilli(),
		ExpiresAt:   now.Add(n.cfg.DHT.RecordTTL.Duration()).UnixMilli(),
	}
	signing, err := wire.RecordSigningBytes(rec)
	if err != nil {
		return 0, opError("dht_put", err)
	}
	if rec.Signature, err = n.identity.Sign(signing); err != nil {
		return 0, opError("dht_put", err)
	}

	if !n.records.Store(storedFromWire(rec)) {
		return 0, opError("dht_put", ErrStoreFull)
	}
	n.metrics.SetRecords(n.records.Size())

	replicated := n.replicate(ctx, rec)
	logger.Debug("发布记录", "key", key, "replicas", replicated)
	return replicated, nil
}

// DHTGet 读取本地未过期的记录值
func (n *Node) DHTGet(key string) ([]byte, bool) {
	rec, ok := n.records.Get(key)
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// DHTRecord 读取本地未过期的完整记录
func (n *Node) DHTRecord(key string) (*dht.StoredRecord, bool) {
	return n.records.Get(key)
}

// DHTKeys 返回本地未过期的键
func (n *Node) DHTKeys() []string {
	return n.records.Keys()
}

// replicate 向距离 key 最近的 ReplicationFactor 个已连接节点发送 STORE
func (n *Node) replicate(ctx context.Context, rec wire.Record) int {
	want := n.cfg.DHT.ReplicationFactor
	if want <= 0 {
		return 0
	}

	sent := 0
	for _, peer := range n.routing.ClosestPeers(rec.Key, dht.BucketSize) {
		if sent >= want {
			break
		}
		if !n.transport.IsConnected(peer.ID()) {
			continue
		}
		if err := n.sendPayload(ctx, types.MessageStore, peer.ID(), rec); err != nil {
			logger.Debug("复制记录失败", "key", rec.Key, "peer", peer.ID().ShortString(), "err", err)
			continue
		}
		sent++
	}
	return sent
}

// handleStore 校验发布者签名后保存复制来的记录
func (n *Node) handleStore(msg *types.Message) {
	var rec wire.Record
	if err := wire.DecodePayload(msg.Payload, &rec); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}

	resp := wire.StoreResponse{Key: rec.Key}
	switch {
	case !n.cfg.EnableDHT:
		resp.Error = ErrDHTDisabled.Error()
	case !n.verifyRecord(rec):
		resp.Error = "invalid record signature"
	case !n.records.Store(storedFromWire(rec)):
		resp.Error = "record rejected"
	default:
		resp.OK = true
		n.metrics.SetRecords(n.records.Size())
	}

	ctx, cancel := n.replyContext()
	defer cancel()
	if err := n.sendPayload(ctx, types.MessageStoreResponse, msg.From.ID, resp); err != nil {
		logger.Debug("发送 STORE_RESPONSE 失败", "peer", msg.From.ID.ShortString(), "err", err)
	}
}

func (n *Node) handleStoreResponse(msg *types.Message) {
	var resp wire.StoreResponse
	if err := wire.DecodePayload(msg.Payload, &resp); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	if resp.OK {
		logger.Debug("记录已复制", "key", resp.Key, "peer", msg.From.ID.ShortString())
	} else {
		logger.Warn("记录复制被拒绝", "key", resp.Key, "peer", msg.From.ID.ShortString(), "reason", resp.Error)
	}
}

func (n *Node) verifyRecord(rec wire.Record) bool {
	if !identity.VerifyIdentity(rec.Publisher) {
		return false
	}
	signing, err := wire.RecordSigningBytes(rec)
	if err != nil {
		return false
	}
	return n.identity.Verify(signing, rec.Signature, rec.Publisher.PublicKey)
}

func storedFromWire(rec wire.Record) *dht.StoredRecord {
	return &dht.StoredRecord{
		Key:         rec.Key,
		Value:       rec.Value,
		Publisher:   rec.Publisher,
		PublishedAt: time.UnixMilli(rec.PublishedAt),
		ExpiresAt:   time.UnixMilli(rec.ExpiresAt),
		Signature:   rec.Signature,
	}
}

// ============================================================================
//                              FIND_NODE
// ============================================================================

// FindNode 向 peer 查询距离 target 最近的节点，结果异步加入路由表
func (n *Node) FindNode(ctx context.Context, peer types.PeerID, target string) error {
	return opError("find_node", n.sendPayload(ctx, types.MessageFindNode, peer, wire.FindNodeRequest{Target: target}))
}

// handleFindNode 回复至多 K 个最近节点（不含请求者）
func (n *Node) handleFindNode(msg *types.Message) {
	var req wire.FindNodeRequest
	if err := wire.DecodePayload(msg.Payload, &req); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}

	resp := wire.FindNodeResponse{Target: req.Target}
	for _, rec := range n.routing.ClosestPeers(req.Target, dht.BucketSize+1) {
		if rec.ID() == msg.From.ID {
			continue
		}
		if len(resp.Peers) == dht.BucketSize {
			break
		}
		resp.Peers = append(resp.Peers, wire.PeerInfoFromRecord(rec))
	}

	ctx, cancel := n.replyContext()
	defer cancel()
	if err := n.sendPayload(ctx, types.MessageFindNodeResponse, msg.From.ID, resp); err != nil {
		logger.Debug("发送 FIND_NODE_RESPONSE 失败", "peer", msg.From.ID.ShortString(), "err", err)
	}
}

// handleFindNodeResponse 把返回的新节点加入路由表
//
// 已知节点不更新，第三方的信息不刷新 lastSeen。
func (n *Node) handleFindNodeResponse(msg *types.Message) {
	var resp wire.FindNodeResponse
	if err := wire.DecodePayload(msg.Payload, &resp); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}

	added := 0
	for _, info := range resp.Peers {
		if info.Identity.ID == n.local.ID || n.routing.HasPeer(info.Identity.ID) {
			continue
		}
		if !identity.VerifyIdentity(info.Identity) || len(info.Addresses) == 0 {
			continue
		}
		n.routing.AddPeer(info.ToRecord())
		added++
	}
	if added > 0 {
		logger.Debug("发现新节点", "from", msg.From.ID.ShortString(), "added", added)
		n.updatePeerGauges()
	}
}
