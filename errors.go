package meshnet

import (
	"errors"

	"github.com/dep2p/go-meshnet/internal/overlay"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 节点生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 节点未启动
	ErrNotStarted = errors.New("node not started")

	// ErrAlreadyStarted 节点已启动
	ErrAlreadyStarted = errors.New("node already started")

	// ErrNodeClosed 节点已关闭
	ErrNodeClosed = errors.New("node closed")

	// ────────────────────────────────────────────────────────────────────────
	// 覆盖网络错误（与 overlay 包相同的哨兵值）
	// ────────────────────────────────────────────────────────────────────────

	// ErrUnknownPeer 路由表中没有该节点
	ErrUnknownPeer = overlay.ErrUnknownPeer

	// ErrDHTDisabled 未启用 DHT
	ErrDHTDisabled = overlay.ErrDHTDisabled

	// ErrGossipDisabled 未启用广播
	ErrGossipDisabled = overlay.ErrGossipDisabled

	// ErrStoreFull 值存储已满
	ErrStoreFull = overlay.ErrStoreFull

	// ErrUnknownRound 未知共识轮次
	ErrUnknownRound = overlay.ErrUnknownRound

	// ErrRoundFinished 轮次已结束
	ErrRoundFinished = overlay.ErrRoundFinished
)
