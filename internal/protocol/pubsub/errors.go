// Package pubsub 实现主题广播（flood 式 gossip）
package pubsub

import "errors"

// 错误定义
var (
	// ErrEmptyTopic 主题为空
	ErrEmptyTopic = errors.New("pubsub: empty topic")

	// ErrInvalidMessage 无效的消息
	ErrInvalidMessage = errors.New("pubsub: invalid message")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("pubsub: invalid config")
)
