// Package memory 提供进程内传输
//
// 同一个 Hub 上的 Transport 通过地址互相发现。消息经过 wire 编解码后
// 投递到接收方的有界队列，由接收方的投递 goroutine 按序调用消息回调，
// 行为上与网络传输一致：异步、可能因队列满而丢弃。
package memory

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-meshnet/internal/core/transport"
	"github.com/dep2p/go-meshnet/internal/core/wire"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var logger = log.Logger("transport/memory")

// DefaultQueueSize 每个传输的默认接收队列长度
const DefaultQueueSize = 1024

// HubOption Hub 选项
type HubOption func(*Hub)

// WithQueueSize 设置接收队列长度
func WithQueueSize(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMaxMessageSize 设置编码后消息的最大字节数
func WithMaxMessageSize(n int) HubOption {
	return func(h *Hub) {
		h.codec = wire.NewCodec(n)
	}
}

// ============================================================================
//                              Hub
// ============================================================================

// Hub 进程内“网络”，按监听地址索引传输
type Hub struct {
	codec     *wire.Codec
	queueSize int
	nextAddr  atomic.Uint64

	mu        sync.RWMutex
	listeners map[string]*Transport
}

// NewHub 创建 Hub
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		codec:     wire.NewCodec(wire.DefaultMaxMessageSize),
		queueSize: DefaultQueueSize,
		listeners: make(map[string]*Transport),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewTransport 在 Hub 上创建一个传输
func (h *Hub) NewTransport(local types.PeerIdentity) *Transport {
	return newTransport(h, local)
}

// Listeners 返回当前监听中的地址数
func (h *Hub) Listeners() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.listeners)
}

// resolveAddress 空地址或端口为 0 时分配 mem-N
func (h *Hub) resolveAddress(address string) string {
	if address == "" || strings.HasSuffix(address, ":0") {
		return fmt.Sprintf("mem-%d", h.nextAddr.Add(1))
	}
	return address
}

func (h *Hub) register(address string, t *Transport) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.listeners[address]; exists {
		return fmt.Errorf("%w: %s in use", transport.ErrInvalidAddress, address)
	}
	h.listeners[address] = t
	return nil
}

func (h *Hub) unregister(address string, t *Transport) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.listeners[address] == t {
		delete(h.listeners, address)
	}
}

func (h *Hub) lookup(address string) (*Transport, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.listeners[address]
	return t, ok
}
