package types

import (
	"time"
)

// ============================================================================
//                              MessageType - 消息类型
// ============================================================================

// MessageType 线上消息类型
type MessageType uint8

const (
	MessagePing             MessageType = 0
	MessagePong             MessageType = 1
	MessageFindNode         MessageType = 2
	MessageFindNodeResponse MessageType = 3
	MessageStore            MessageType = 4
	MessageStoreResponse    MessageType = 5
	MessageData             MessageType = 10
	MessageDataAck          MessageType = 11
	MessageBroadcast        MessageType = 20
	MessageConsensusPropose MessageType = 30
	MessageConsensusVote    MessageType = 31
	MessageConsensusCommit  MessageType = 32
	MessageStreamOpen       MessageType = 40
	MessageStreamData       MessageType = 41
	MessageStreamClose      MessageType = 42
)

// String 返回消息类型名称
func (t MessageType) String() string {
	switch t {
	case MessagePing:
		return "PING"
	case MessagePong:
		return "PONG"
	case MessageFindNode:
		return "FIND_NODE"
	case MessageFindNodeResponse:
		return "FIND_NODE_RESPONSE"
	case MessageStore:
		return "STORE"
	case MessageStoreResponse:
		return "STORE_RESPONSE"
	case MessageData:
		return "DATA"
	case MessageDataAck:
		return "DATA_ACK"
	case MessageBroadcast:
		return "BROADCAST"
	case MessageConsensusPropose:
		return "CONSENSUS_PROPOSE"
	case MessageConsensusVote:
		return "CONSENSUS_VOTE"
	case MessageConsensusCommit:
		return "CONSENSUS_COMMIT"
	case MessageStreamOpen:
		return "STREAM_OPEN"
	case MessageStreamData:
		return "STREAM_DATA"
	case MessageStreamClose:
		return "STREAM_CLOSE"
	default:
		return "UNKNOWN"
	}
}

// IsValid 检查是否为已知类型
func (t MessageType) IsValid() bool {
	return t.String() != "UNKNOWN"
}

// ============================================================================
//                              Message - 消息信封
// ============================================================================

// DefaultMessageTTL 消息默认跳数
const DefaultMessageTTL = 10

// 常用头部
const (
	// HeaderTopic BROADCAST 消息的主题
	HeaderTopic = "topic"

	// HeaderSeen BROADCAST 已见节点列表（逗号分隔的 PeerID）
	HeaderSeen = "seen"

	// HeaderHops BROADCAST 已转发跳数
	HeaderHops = "hops"

	// HeaderOrigin BROADCAST 源节点 ID
	HeaderOrigin = "origin"

	// HeaderAck DATA 请求确认
	HeaderAck = "ack"

	// HeaderEncryption DATA 负载的加密方式
	HeaderEncryption = "enc"
)

// Message 线上消息信封（逻辑结构，不规定字节布局）
type Message struct {
	ID        string
	Type      MessageType
	From      PeerIdentity
	To        PeerIdentity
	Payload   []byte
	Signature []byte

	// Timestamp 毫秒时间戳
	Timestamp int64

	TTL     uint32
	Headers map[string]string
}

// NewMessage 创建消息，TTL 取默认值
func NewMessage(id string, typ MessageType, from, to PeerIdentity, payload []byte) *Message {
	return &Message{
		ID:        id,
		Type:      typ,
		From:      from,
		To:        to,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
		TTL:       DefaultMessageTTL,
		Headers:   make(map[string]string),
	}
}

// Header 读取头部
func (m *Message) Header(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	v, ok := m.Headers[key]
	return v, ok
}

// SetHeader 设置头部
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// Size 近似大小（用于流量统计）
func (m *Message) Size() int {
	n := len(m.ID) + len(m.Payload) + len(m.Signature)
	for k, v := range m.Headers {
		n += len(k) + len(v)
	}
	return n
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	c.Signature = append([]byte(nil), m.Signature...)
	c.Headers = make(map[string]string, len(m.Headers))
	for k, v := range m.Headers {
		c.Headers[k] = v
	}
	return &c
}
