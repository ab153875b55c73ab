package meshnet

import (
	"github.com/dep2p/go-meshnet/internal/core/transport/memory"
	"github.com/dep2p/go-meshnet/internal/discovery/dht"
	"github.com/dep2p/go-meshnet/internal/overlay"
	"github.com/dep2p/go-meshnet/internal/protocol/consensus"
	"github.com/dep2p/go-meshnet/internal/protocol/pubsub"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// PeerID 节点 ID（公钥哈希的十六进制）
	PeerID = types.PeerID

	// PeerIdentity 节点身份
	PeerIdentity = types.PeerIdentity

	// PeerRecord 路由表中的节点记录
	PeerRecord = types.PeerRecord

	// GossipMessage 主题广播消息
	GossipMessage = pubsub.Message

	// GossipHandler 主题订阅回调
	GossipHandler = pubsub.Handler

	// StoredRecord DHT 记录
	StoredRecord = dht.StoredRecord

	// ConsensusRound 共识轮次快照
	ConsensusRound = consensus.Round

	// ConsensusState 共识轮次状态
	ConsensusState = consensus.State

	// DecisionFunc 共识决议回调
	DecisionFunc = consensus.DecisionFunc

	// MessageHandler DATA 消息回调
	MessageHandler = overlay.MessageHandler

	// PeerChangeHandler 连接变化回调
	PeerChangeHandler = overlay.PeerChangeHandler

	// ProposalHandler 远端提案回调
	ProposalHandler = overlay.ProposalHandler

	// SendOption 点对点发送选项
	SendOption = overlay.SendOption

	// Stats 节点统计
	Stats = overlay.Stats

	// MemoryHub 进程内传输 Hub
	MemoryHub = memory.Hub
)

// 共识轮次状态
const (
	StateIdle      = consensus.StateIdle
	StateProposing = consensus.StateProposing
	StateVoting    = consensus.StateVoting
	StateCommitted = consensus.StateCommitted
	StateFailed    = consensus.StateFailed
)

// WithAck 请求对端回复 DATA_ACK
func WithAck() SendOption {
	return overlay.WithAck()
}

// NewMemoryHub 创建进程内传输 Hub
func NewMemoryHub() *MemoryHub {
	return memory.NewHub()
}
