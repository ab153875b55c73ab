package metrics

import (
	"sync/atomic"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// 丢弃原因
const (
	DropInvalid     = "invalid"
	DropRateLimited = "rate_limited"
	DropExpired     = "ttl_expired"
	DropDuplicate   = "duplicate"
	DropUnsupported = "unsupported"
)

// ============================================================================
//                              Metrics
// ============================================================================

// Metrics 流量计数器
//
// 所有方法并发安全。
type Metrics struct {
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	bytesSent        atomic.Int64
	bytesReceived    atomic.Int64
	dropped          atomic.Int64

	rec *Recorder
}

// New 创建计数器，rec 可以为 nil
func New(rec *Recorder) *Metrics {
	return &Metrics{rec: rec}
}

// MessageSent 记录一条出站消息
func (m *Metrics) MessageSent(typ types.MessageType, size int) {
	m.messagesSent.Add(1)
	m.bytesSent.Add(int64(size))
	m.rec.recordMessage("out", typ, size)
}

// MessageReceived 记录一条入站消息
func (m *Metrics) MessageReceived(typ types.MessageType, size int) {
	m.messagesReceived.Add(1)
	m.bytesReceived.Add(int64(size))
	m.rec.recordMessage("in", typ, size)
}

// Dropped 记录一条被丢弃的入站消息
func (m *Metrics) Dropped(reason string) {
	m.dropped.Add(1)
	m.rec.recordDrop(reason)
}

// SetPeers 更新节点数量
func (m *Metrics) SetPeers(connected, known int) {
	m.rec.setPeers(connected, known)
}

// SetRecords 更新 DHT 记录数
func (m *Metrics) SetRecords(n int) {
	m.rec.setRecords(n)
}

// RoundFinished 记录共识轮次结束
func (m *Metrics) RoundFinished(state string) {
	m.rec.recordRound(state)
}

// Recorder 返回底层 Prometheus 记录器
func (m *Metrics) Recorder() *Recorder {
	return m.rec
}

// Snapshot 计数器快照
type Snapshot struct {
	MessagesSent     int64
	MessagesReceived int64
	BytesSent        int64
	BytesReceived    int64
	Dropped          int64
}

// Snapshot 返回当前计数
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		MessagesSent:     m.messagesSent.Load(),
		MessagesReceived: m.messagesReceived.Load(),
		BytesSent:        m.bytesSent.Load(),
		BytesReceived:    m.bytesReceived.Load(),
		Dropped:          m.dropped.Load(),
	}
}
