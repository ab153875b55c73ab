package websocket

import (
	"time"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/wire"
)

// Config WebSocket 传输配置
type Config struct {
	// Path 升级路径
	Path string

	// MaxMessageSize 单帧最大字节数
	MaxMessageSize int

	// DialTimeout 拨号与握手超时
	DialTimeout time.Duration

	// WriteTimeout 单次写超时
	WriteTimeout time.Duration

	// InboundRate/InboundBurst 每连接入站令牌桶，InboundRate <= 0 表示不限速
	InboundRate  float64
	InboundBurst int
}

// NewConfig 创建默认配置
func NewConfig() Config {
	return Config{
		Path:           "/meshnet",
		MaxMessageSize: wire.DefaultMaxMessageSize,
		DialTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		InboundRate:    200,
		InboundBurst:   400,
	}
}

// ConfigFromUnified 从统一配置创建传输配置
func ConfigFromUnified(cfg *config.Config) Config {
	c := NewConfig()
	if cfg == nil {
		return c
	}
	t := cfg.Transport
	if t.Path != "" {
		c.Path = t.Path
	}
	if t.MaxMessageSize > 0 {
		c.MaxMessageSize = t.MaxMessageSize
	}
	if t.DialTimeout > 0 {
		c.DialTimeout = t.DialTimeout.Duration()
	}
	c.InboundRate = t.InboundRate
	c.InboundBurst = t.InboundBurst
	return c
}
