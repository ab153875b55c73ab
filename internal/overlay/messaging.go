package overlay

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/internal/protocol/pubsub"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// SendOption 点对点发送选项
type SendOption func(msg *types.Message)

// WithAck 请求对端回复 DATA_ACK
func WithAck() SendOption {
	return func(msg *types.Message) {
		msg.SetHeader(types.HeaderAck, "1")
	}
}

// ============================================================================
//                              点对点
// ============================================================================

// Send 以 DATA 消息发送负载
//
// 对端未连接时返回包装了 transport.ErrNotConnected 的错误。
func (n *Node) Send(ctx context.Context, peer types.PeerID, data []byte, opts ...SendOption) error {
	msg := n.newMessage(types.MessageData, peer, data)
	for _, opt := range opts {
		opt(msg)
	}
	return opError("send", n.sendMessage(ctx, peer, msg))
}

// SendEncrypted 发送加密的 DATA 消息
//
// 负载使用与对端 X25519 协商的密钥以 XChaCha20-Poly1305 封装，
// 附加数据为消息 ID。对端公钥从路由表获取。
func (n *Node) SendEncrypted(ctx context.Context, peer types.PeerID, data []byte, opts ...SendOption) error {
	rec, ok := n.routing.GetPeer(peer)
	if !ok || rec.Identity.PublicKey == "" {
		return opError("send_encrypted", fmt.Errorf("%w: %s", ErrUnknownPeer, peer.ShortString()))
	}
	key, err := n.identity.DeriveSharedSecret(rec.Identity.PublicKey)
	if err != nil {
		return opError("send_encrypted", err)
	}

	msg := n.newMessage(types.MessageData, peer, nil)
	sealed, err := identity.Seal(key, data, []byte(msg.ID))
	if err != nil {
		return opError("send_encrypted", err)
	}
	msg.Payload = sealed
	msg.SetHeader(types.HeaderEncryption, identity.CipherName)
	for _, opt := range opts {
		opt(msg)
	}
	return opError("send_encrypted", n.sendMessage(ctx, peer, msg))
}

// ============================================================================
//                              广播
// ============================================================================

// Subscribe 订阅主题
func (n *Node) Subscribe(topic string, h pubsub.Handler) error {
	if !n.cfg.EnableGossip {
		return opError("subscribe", ErrGossipDisabled)
	}
	return opError("subscribe", n.gossip.Subscribe(topic, h))
}

// Unsubscribe 取消订阅
func (n *Node) Unsubscribe(topic string) {
	n.gossip.Unsubscribe(topic)
}

// Subscriptions 返回已订阅主题
func (n *Node) Subscriptions() []string {
	return n.gossip.Subscriptions()
}

// Broadcast 发布消息并发送给广播协议选出的节点
//
// 本地订阅者先于任何网络发送收到消息。返回消息 ID。
func (n *Node) Broadcast(ctx context.Context, topic string, data []byte) (string, error) {
	if !n.cfg.EnableGossip {
		return "", opError("broadcast", ErrGossipDisabled)
	}
	gm, err := n.gossip.Publish(topic, data)
	if err != nil {
		return "", opError("broadcast", err)
	}
	n.forwardBroadcast(ctx, gm, types.DefaultMessageTTL)
	return gm.ID, nil
}

// forwardBroadcast 把广播消息转发给至多 fanout 个未见过它的已连接节点
//
// 选中的节点先加入 seen 列表，再逐个发送。
func (n *Node) forwardBroadcast(ctx context.Context, gm *pubsub.Message, ttl uint32) int {
	targets := n.gossip.SelectForwardPeers(gm, n.transport.ConnectedPeers())
	if len(targets) == 0 {
		return 0
	}

	out := gm.Clone()
	out.MarkSeenBy(n.local.ID)
	out.MarkSeenBy(targets...)
	seen := pubsub.EncodeSeen(out.SeenByList())

	sent := 0
	for _, target := range targets {
		msg := n.newMessage(types.MessageBroadcast, target, out.Payload)
		msg.ID = out.ID
		msg.TTL = ttl
		msg.SetHeader(types.HeaderTopic, out.Topic)
		msg.SetHeader(types.HeaderOrigin, string(out.Origin.ID))
		msg.SetHeader(types.HeaderHops, strconv.Itoa(out.HopCount+1))
		msg.SetHeader(types.HeaderSeen, seen)

		if err := n.sendMessage(ctx, target, msg); err != nil {
			logger.Debug("转发广播失败", "peer", target.ShortString(), "id", out.ID, "err", err)
			continue
		}
		sent++
	}
	logger.Debug("转发广播", "topic", out.Topic, "id", out.ID, "hops", out.HopCount, "sent", sent)
	return sent
}

// ============================================================================
//                              内部实现
// ============================================================================

// newMessage 创建从本地发往 to 的消息
func (n *Node) newMessage(typ types.MessageType, to types.PeerID, payload []byte) *types.Message {
	toIdentity := types.PeerIdentity{ID: to}
	if rec, ok := n.routing.GetPeer(to); ok {
		toIdentity = rec.Identity
	}
	msg := types.NewMessage(wire.NewMessageID(), typ, n.local, toIdentity, payload)
	msg.Timestamp = n.clock.Now().UnixMilli()
	return msg
}

// sendMessage 签名并发送
func (n *Node) sendMessage(ctx context.Context, to types.PeerID, msg *types.Message) error {
	msg.Signature = nil
	sig, err := n.identity.Sign(wire.SigningBytes(msg))
	if err != nil {
		return err
	}
	msg.Signature = sig

	if err := n.transport.Send(ctx, to, msg); err != nil {
		return err
	}
	n.metrics.MessageSent(msg.Type, msg.Size())
	return nil
}

// sendPayload 以 CBOR 编码控制负载并发送
func (n *Node) sendPayload(ctx context.Context, typ types.MessageType, to types.PeerID, v any) error {
	payload, err := wire.EncodePayload(v)
	if err != nil {
		return err
	}
	return n.sendMessage(ctx, to, n.newMessage(typ, to, payload))
}

func (n *Node) sendPing(to types.PeerID) {
	ctx, cancel := n.replyContext()
	defer cancel()
	if err := n.sendPayload(ctx, types.MessagePing, to, n.announce()); err != nil {
		logger.Debug("发送 PING 失败", "peer", to.ShortString(), "err", err)
	}
}
