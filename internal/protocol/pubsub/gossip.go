package pubsub

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dep2p/go-meshnet/pkg/lib/log"
	"github.com/dep2p/go-meshnet/pkg/types"
)

var logger = log.Logger("protocol/pubsub")

// Handler 主题消息回调，同步调用
type Handler func(msg *Message)

// Config 广播配置
type Config struct {
	// Fanout 每跳转发的节点数
	Fanout int

	// HistorySize 已见消息历史上限
	HistorySize int
}

// Option Gossip 选项
type Option func(*Gossip)

// WithClock 使用指定时钟
func WithClock(c clock.Clock) Option {
	return func(g *Gossip) {
		g.clock = c
	}
}

// ============================================================================
//                              Gossip
// ============================================================================

// Gossip 主题广播协议
//
// 每个消息 ID 在本节点最多投递一次。已见集合按先进先出淘汰，
// 历史超过 HistorySize 后最早的 ID 可能被遗忘并重新处理。
type Gossip struct {
	local  types.PeerIdentity
	fanout int
	clock  clock.Clock

	mu       sync.Mutex
	seen     *simplelru.LRU[string, struct{}]
	handlers map[string][]Handler
}

// New 创建广播协议
func New(local types.PeerIdentity, cfg Config, opts ...Option) (*Gossip, error) {
	if cfg.Fanout <= 0 || cfg.HistorySize <= 0 {
		return nil, fmt.Errorf("%w: fanout=%d history=%d", ErrInvalidConfig, cfg.Fanout, cfg.HistorySize)
	}
	seen, err := simplelru.NewLRU[string, struct{}](cfg.HistorySize, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	g := &Gossip{
		local:    local,
		fanout:   cfg.Fanout,
		clock:    clock.New(),
		seen:     seen,
		handlers: make(map[string][]Handler),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Subscribe 订阅主题，同一主题可注册多个回调
func (g *Gossip) Subscribe(topic string, h Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[topic] = append(g.handlers[topic], h)
	return nil
}

// Unsubscribe 取消主题的全部回调
func (g *Gossip) Unsubscribe(topic string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.handlers, topic)
}

// Subscriptions 返回已订阅的主题（已排序）
func (g *Gossip) Subscriptions() []string {
	g.mu.Lock()
	topics := make([]string, 0, len(g.handlers))
	for topic := range g.handlers {
		topics = append(topics, topic)
	}
	g.mu.Unlock()

	sort.Strings(topics)
	return topics
}

// IsSubscribed 检查是否订阅了主题
func (g *Gossip) IsSubscribed(topic string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.handlers[topic]
	return ok
}

// Publish 以本地节点为源发布消息，并先在本地投递
func (g *Gossip) Publish(topic string, data []byte) (*Message, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	msg := &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   append([]byte(nil), data...),
		Origin:    g.local,
		Timestamp: g.clock.Now().UnixMilli(),
	}
	msg.MarkSeenBy(g.local.ID)

	g.Receive(msg)
	return msg, nil
}

// Receive 处理一条消息
//
// 已见过的 ID 直接忽略并返回 false；新消息记入已见集合，
// 按注册顺序同步调用该主题的全部回调，返回 true。
func (g *Gossip) Receive(msg *Message) bool {
	if msg == nil || msg.ID == "" {
		return false
	}

	g.mu.Lock()
	if g.seen.Contains(msg.ID) {
		g.mu.Unlock()
		return false
	}
	g.seen.Add(msg.ID, struct{}{})
	handlers := append([]Handler(nil), g.handlers[msg.Topic]...)
	g.mu.Unlock()

	logger.Debug("投递广播消息", "topic", msg.Topic, "id", msg.ID, "hops", msg.HopCount, "handlers", len(handlers))
	for _, h := range handlers {
		h(msg)
	}
	return true
}

// SelectForwardPeers 从可用节点中随机选出至多 fanout 个未见过该消息的节点
func (g *Gossip) SelectForwardPeers(msg *Message, available []types.PeerID) []types.PeerID {
	candidates := make([]types.PeerID, 0, len(available))
	for _, id := range available {
		if !msg.WasSeenBy(id) {
			candidates = append(candidates, id)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > g.fanout {
		candidates = candidates[:g.fanout]
	}
	return candidates
}

// IsSeen 检查消息 ID 是否在已见集合中
func (g *Gossip) IsSeen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen.Contains(id)
}

// SeenCount 返回已见集合大小
func (g *Gossip) SeenCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seen.Len()
}

// Fanout 返回每跳转发数
func (g *Gossip) Fanout() int {
	return g.fanout
}
