package overlay

import (
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/internal/protocol/pubsub"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var (
	errSenderMismatch = errors.New("envelope sender does not match transport peer")
	errIdentityBind   = errors.New("peer ID not derived from public key")
	errBadSignature   = errors.New("bad envelope signature")
	errWrongRecipient = errors.New("envelope addressed to another peer")
)

// ============================================================================
//                              入站分发
// ============================================================================

// handleMessage 传输层入站消息回调
func (n *Node) handleMessage(from types.PeerID, msg *types.Message) {
	defer n.enter()()
	n.metrics.MessageReceived(msg.Type, msg.Size())

	if !n.allow(from) {
		n.drop(msg, metrics.DropRateLimited, nil)
		return
	}
	if err := n.validate(from, msg); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	if msg.TTL == 0 {
		n.drop(msg, metrics.DropExpired, nil)
		return
	}
	n.routing.Touch(from)

	switch msg.Type {
	case types.MessagePing:
		n.handlePing(msg)
	case types.MessagePong:
		n.handlePong(msg)
	case types.MessageFindNode:
		n.handleFindNode(msg)
	case types.MessageFindNodeResponse:
		n.handleFindNodeResponse(msg)
	case types.MessageStore:
		n.handleStore(msg)
	case types.MessageStoreResponse:
		n.handleStoreResponse(msg)
	case types.MessageData:
		n.handleData(msg)
	case types.MessageDataAck:
		n.handleDataAck(msg)
	case types.MessageBroadcast:
		n.handleBroadcast(msg)
	case types.MessageConsensusPropose:
		n.handleConsensusPropose(msg)
	case types.MessageConsensusVote:
		n.handleConsensusVote(msg)
	case types.MessageConsensusCommit:
		n.handleConsensusCommit(msg)
	default:
		// STREAM_* 及未知类型
		n.drop(msg, metrics.DropUnsupported, nil)
	}
}

// validate 信封校验
func (n *Node) validate(from types.PeerID, msg *types.Message) error {
	if msg.From.ID != from {
		return errSenderMismatch
	}
	if !msg.To.ID.IsEmpty() && msg.To.ID != n.local.ID {
		return errWrongRecipient
	}
	if !identity.VerifyIdentity(msg.From) {
		return errIdentityBind
	}
	if !n.identity.Verify(wire.SigningBytes(msg), msg.Signature, msg.From.PublicKey) {
		return errBadSignature
	}
	return nil
}

// allow 按发送方限速
func (n *Node) allow(from types.PeerID) bool {
	if n.cfg.Transport.InboundRate <= 0 {
		return true
	}
	l, ok := n.limiters.Get(from)
	if !ok {
		burst := n.cfg.Transport.InboundBurst
		if burst <= 0 {
			burst = int(n.cfg.Transport.InboundRate)
		}
		l = rate.NewLimiter(rate.Limit(n.cfg.Transport.InboundRate), burst)
		n.limiters.Add(from, l)
	}
	return l.Allow()
}

func (n *Node) drop(msg *types.Message, reason string, err error) {
	n.metrics.Dropped(reason)
	logger.Debug("丢弃消息",
		"type", msg.Type.String(),
		"id", msg.ID,
		"from", msg.From.ID.ShortString(),
		"reason", reason,
		"err", err)
}

// ============================================================================
//                              各类型处理
// ============================================================================

func (n *Node) handlePing(msg *types.Message) {
	var a wire.Announce
	if err := wire.DecodePayload(msg.Payload, &a); err == nil {
		n.observeAnnounce(msg.From, a)
	}

	ctx, cancel := n.replyContext()
	defer cancel()
	if err := n.sendPayload(ctx, types.MessagePong, msg.From.ID, n.announce()); err != nil {
		logger.Debug("回复 PONG 失败", "peer", msg.From.ID.ShortString(), "err", err)
	}
}

func (n *Node) handlePong(msg *types.Message) {
	var a wire.Announce
	if err := wire.DecodePayload(msg.Payload, &a); err == nil {
		n.observeAnnounce(msg.From, a)
		return
	}
	if !n.routing.Touch(msg.From.ID) {
		n.routing.AddPeer(types.NewPeerRecord(msg.From))
	}
}

// handleData 解密（如需要）后调用消息回调，按需回复 DATA_ACK
func (n *Node) handleData(msg *types.Message) {
	payload := msg.Payload
	if enc, ok := msg.Header(types.HeaderEncryption); ok {
		plain, err := n.open(msg, enc)
		if err != nil {
			n.drop(msg, metrics.DropInvalid, err)
			return
		}
		payload = plain
	}

	if ack, _ := msg.Header(types.HeaderAck); ack == "1" {
		ctx, cancel := n.replyContext()
		if err := n.sendPayload(ctx, types.MessageDataAck, msg.From.ID, wire.DataAck{MessageID: msg.ID}); err != nil {
			logger.Debug("回复 DATA_ACK 失败", "peer", msg.From.ID.ShortString(), "err", err)
		}
		cancel()
	}

	if h := n.messageHandler(); h != nil {
		h(msg.From, payload)
	}
}

func (n *Node) open(msg *types.Message, cipher string) ([]byte, error) {
	if cipher != identity.CipherName {
		return nil, fmt.Errorf("unsupported cipher %q", cipher)
	}
	key, err := n.identity.DeriveSharedSecret(msg.From.PublicKey)
	if err != nil {
		return nil, err
	}
	return identity.Open(key, msg.Payload, []byte(msg.ID))
}

func (n *Node) handleDataAck(msg *types.Message) {
	var ack wire.DataAck
	if err := wire.DecodePayload(msg.Payload, &ack); err != nil {
		n.drop(msg, metrics.DropInvalid, err)
		return
	}
	logger.Debug("收到 DATA_ACK", "id", ack.MessageID, "from", msg.From.ID.ShortString())
}

// handleBroadcast 重建广播消息，首次见到时投递并继续转发
func (n *Node) handleBroadcast(msg *types.Message) {
	if !n.cfg.EnableGossip {
		n.drop(msg, metrics.DropUnsupported, ErrGossipDisabled)
		return
	}
	topic, _ := msg.Header(types.HeaderTopic)
	if topic == "" || msg.ID == "" {
		n.drop(msg, metrics.DropInvalid, pubsub.ErrInvalidMessage)
		return
	}

	hops := 0
	if v, ok := msg.Header(types.HeaderHops); ok {
		if h, err := strconv.Atoi(v); err == nil && h >= 0 {
			hops = h
		}
	}
	// origin 头由转发节点填写，未签名；只有源节点直接发来时才带公钥
	origin := msg.From
	if v, ok := msg.Header(types.HeaderOrigin); ok {
		if id, err := types.ParsePeerID(v); err == nil && id != msg.From.ID {
			origin = types.PeerIdentity{ID: id}
		}
	}

	gm := &pubsub.Message{
		ID:        msg.ID,
		Topic:     topic,
		Payload:   msg.Payload,
		Origin:    origin,
		Timestamp: msg.Timestamp,
		HopCount:  hops,
	}
	if seen, ok := msg.Header(types.HeaderSeen); ok {
		gm.MarkSeenBy(pubsub.DecodeSeen(seen)...)
	}
	gm.MarkSeenBy(msg.From.ID, n.local.ID)

	if !n.gossip.Receive(gm) {
		n.drop(msg, metrics.DropDuplicate, nil)
		return
	}
	if msg.TTL > 1 {
		ctx, cancel := n.replyContext()
		defer cancel()
		n.forwardBroadcast(ctx, gm, msg.TTL-1)
	}
}
