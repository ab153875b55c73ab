package interfaces

import (
	"context"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// MessageHandler 入站消息回调，from 为传输层认证过的对端 ID
type MessageHandler func(from types.PeerID, msg *types.Message)

// ConnectionHandler 连接状态变化回调
type ConnectionHandler func(peer types.PeerIdentity, connected bool)

// Transport 传输层
//
// 回调可能在传输层自己的 I/O goroutine 中被调用，
// 实现方不得在持有内部锁时调用回调。
type Transport interface {
	// Listen 在指定地址上开始监听
	Listen(ctx context.Context, address string) error

	// StopListening 停止监听并关闭所有连接
	StopListening() error

	// ListenAddress 返回实际监听地址（端口 0 时为分配后的端口）
	ListenAddress() string

	// Connect 连接到对端，返回握手确认的对端身份
	Connect(ctx context.Context, peer *types.PeerRecord) (types.PeerIdentity, error)

	// Disconnect 断开与对端的连接
	Disconnect(peer types.PeerID) error

	// Send 向已连接的对端发送消息
	Send(ctx context.Context, peer types.PeerID, msg *types.Message) error

	// IsConnected 检查是否已连接
	IsConnected(peer types.PeerID) bool

	// ConnectedPeers 返回所有已连接的对端
	ConnectedPeers() []types.PeerID

	// SetMessageHandler 注册入站消息回调
	SetMessageHandler(h MessageHandler)

	// SetConnectionHandler 注册连接状态回调
	SetConnectionHandler(h ConnectionHandler)
}
