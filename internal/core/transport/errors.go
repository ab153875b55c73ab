package transport

import "errors"

var (
	// ErrNotConnected 对端未连接
	ErrNotConnected = errors.New("transport: peer not connected")

	// ErrNotListening 传输尚未监听
	ErrNotListening = errors.New("transport: not listening")

	// ErrAlreadyListening 传输已在监听
	ErrAlreadyListening = errors.New("transport: already listening")

	// ErrInvalidAddress 无效地址
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrUnreachable 地址上没有可达的节点
	ErrUnreachable = errors.New("transport: peer unreachable")

	// ErrPeerIDMismatch 握手得到的 PeerID 与期望不符
	ErrPeerIDMismatch = errors.New("transport: peer ID mismatch")

	// ErrSelfDial 连接到自身
	ErrSelfDial = errors.New("transport: dial to self")

	// ErrHandshake 握手失败
	ErrHandshake = errors.New("transport: handshake failed")

	// ErrQueueFull 对端接收队列已满
	ErrQueueFull = errors.New("transport: receive queue full")
)
