package overlay

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("overlay: node not started")

	// ErrNilTransport 传输为空
	ErrNilTransport = errors.New("overlay: transport is nil")

	// ErrNilIdentity 身份为空
	ErrNilIdentity = errors.New("overlay: identity is nil")

	// ErrConnectionRejected 连接建立后因超过最大连接数被断开
	ErrConnectionRejected = errors.New("overlay: connection rejected")

	// ErrUnknownPeer 路由表中没有该节点
	ErrUnknownPeer = errors.New("overlay: unknown peer")

	// ErrDHTDisabled 未启用 DHT
	ErrDHTDisabled = errors.New("overlay: dht disabled")

	// ErrGossipDisabled 未启用广播
	ErrGossipDisabled = errors.New("overlay: gossip disabled")

	// ErrStoreFull 值存储已满
	ErrStoreFull = errors.New("overlay: record store full")

	// ErrUnknownRound 未知共识轮次
	ErrUnknownRound = errors.New("overlay: unknown consensus round")

	// ErrRoundFinished 轮次已结束
	ErrRoundFinished = errors.New("overlay: consensus round finished")
)

// OverlayError 节点操作错误
type OverlayError struct {
	Op  string // 操作名称
	Err error  // 底层错误
}

// Error 实现 error 接口
func (e *OverlayError) Error() string {
	return fmt.Sprintf("overlay %s: %v", e.Op, e.Err)
}

// Unwrap 实现错误解包
func (e *OverlayError) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OverlayError{Op: op, Err: err}
}
