package types

import (
	"time"
)

// DefaultReputation 新节点的初始信誉值
const DefaultReputation = 100

// PeerRecord 远程节点的全部已知信息
//
// 首次观察到节点（连接或发现响应）时创建，每次心跳/响应刷新 LastSeen。
// RoutingTable 在 AddPeer 之后是该记录的规范持有者，其它组件只拿副本。
type PeerRecord struct {
	// Identity 节点身份
	Identity PeerIdentity

	// DisplayName 显示名称
	DisplayName string

	// ProtocolVersion 协议版本
	ProtocolVersion string

	// Addresses 传输地址（有序）
	Addresses []string

	// Metadata 附加元数据
	Metadata map[string]string

	// LastSeen 最后一次收到该节点消息的时间
	LastSeen time.Time

	// IsRelay 是否为中继节点
	IsRelay bool

	// Reputation 信誉值
	Reputation int
}

// NewPeerRecord 创建节点记录
func NewPeerRecord(identity PeerIdentity, addrs ...string) *PeerRecord {
	return &PeerRecord{
		Identity:   identity,
		Addresses:  append([]string(nil), addrs...),
		Metadata:   make(map[string]string),
		Reputation: DefaultReputation,
	}
}

// ID 返回节点 ID
func (r *PeerRecord) ID() PeerID {
	return r.Identity.ID
}

// Clone 深拷贝
func (r *PeerRecord) Clone() *PeerRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Addresses = append([]string(nil), r.Addresses...)
	c.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// PrimaryAddress 返回第一个地址，没有则为空
func (r *PeerRecord) PrimaryAddress() string {
	if len(r.Addresses) == 0 {
		return ""
	}
	return r.Addresses[0]
}
