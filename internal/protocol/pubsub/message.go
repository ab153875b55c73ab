package pubsub

import (
	"sort"
	"strings"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// Message 广播消息
//
// ID 在源节点生成后不变；SeenBy 随转发单调增长，仅用于减少冗余发送，
// 去重由每个节点本地的已见集合保证。
//
// Origin 仅供参考：经过转发的消息只有 ID，且由最后一跳声明，未经源节点签名。
// 直接收自源节点时 Origin 为已验证的发送者身份（含公钥）。
type Message struct {
	ID        string
	Topic     string
	Payload   []byte
	Origin    types.PeerIdentity
	Timestamp int64
	HopCount  int
	SeenBy    map[types.PeerID]struct{}
}

// MarkSeenBy 记录已见该消息的节点
func (m *Message) MarkSeenBy(ids ...types.PeerID) {
	if m.SeenBy == nil {
		m.SeenBy = make(map[types.PeerID]struct{}, len(ids))
	}
	for _, id := range ids {
		if !id.IsEmpty() {
			m.SeenBy[id] = struct{}{}
		}
	}
}

// WasSeenBy 检查节点是否已见该消息
func (m *Message) WasSeenBy(id types.PeerID) bool {
	_, ok := m.SeenBy[id]
	return ok
}

// SeenByList 返回已见节点列表（已排序）
func (m *Message) SeenByList() []types.PeerID {
	out := make([]types.PeerID, 0, len(m.SeenBy))
	for id := range m.SeenBy {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone 深拷贝
func (m *Message) Clone() *Message {
	c := *m
	c.Payload = append([]byte(nil), m.Payload...)
	c.SeenBy = make(map[types.PeerID]struct{}, len(m.SeenBy))
	for id := range m.SeenBy {
		c.SeenBy[id] = struct{}{}
	}
	return &c
}

// EncodeSeen 编码已见节点列表为头部取值
func EncodeSeen(ids []types.PeerID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}

// DecodeSeen 解析已见节点头部，忽略格式错误的条目
func DecodeSeen(s string) []types.PeerID {
	if s == "" {
		return nil
	}
	var out []types.PeerID
	for _, part := range strings.Split(s, ",") {
		id, err := types.ParsePeerID(part)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out
}
