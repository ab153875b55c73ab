// Package config 提供 meshnet 的统一配置管理
//
// 主 Config 结构体包含 OverlayNode 识别的全部选项，以及
// 各协议组件（Gossip、DHT、Consensus、Transport）的子配置。
// 支持从 JSON 或 YAML 文件加载。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.NodeName = "edge-1"
//	cfg.BootstrapPeers = []string{"ws://10.0.0.1:4100"}
//
//	cfg, err := config.Load("node.yaml")
package config

import (
	"time"
)

// Config meshnet 完整配置
type Config struct {
	// ListenAddress 监听地址（host:port）
	ListenAddress string `json:"listen_address" yaml:"listen_address"`

	// NodeName 节点显示名称
	NodeName string `json:"node_name" yaml:"node_name"`

	// IdentityPath 身份密钥文件路径，为空时每次启动生成临时身份
	IdentityPath string `json:"identity_path,omitempty" yaml:"identity_path,omitempty"`

	// BootstrapPeers 启动时连接的引导节点地址
	BootstrapPeers []string `json:"bootstrap_peers,omitempty" yaml:"bootstrap_peers,omitempty"`

	// MaxConnections 最大连接数
	MaxConnections int `json:"max_connections" yaml:"max_connections"`

	// TargetConnections 目标连接数
	//
	// 已连接数低于该值时，发现循环会主动连接路由表中的节点。
	TargetConnections int `json:"target_connections" yaml:"target_connections"`

	// EnableRelay 对外宣告为中继节点
	EnableRelay bool `json:"enable_relay" yaml:"enable_relay"`

	// EnableDHT 启用 DHT 值存储与复制
	EnableDHT bool `json:"enable_dht" yaml:"enable_dht"`

	// EnableGossip 启用主题广播
	EnableGossip bool `json:"enable_gossip" yaml:"enable_gossip"`

	// PeerDiscoveryInterval 发现循环间隔
	PeerDiscoveryInterval Duration `json:"peer_discovery_interval" yaml:"peer_discovery_interval"`

	// HeartbeatInterval 心跳循环间隔
	HeartbeatInterval Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// StalePeerAge 路由表节点过期时间
	StalePeerAge Duration `json:"stale_peer_age" yaml:"stale_peer_age"`

	// DiscoverySampleSize 每轮发现随机询问的节点数
	DiscoverySampleSize int `json:"discovery_sample_size" yaml:"discovery_sample_size"`

	Gossip    GossipConfig    `json:"gossip" yaml:"gossip"`
	DHT       DHTConfig       `json:"dht" yaml:"dht"`
	Consensus ConsensusConfig `json:"consensus" yaml:"consensus"`
	Transport TransportConfig `json:"transport" yaml:"transport"`
}

// GossipConfig 广播协议配置
type GossipConfig struct {
	// Fanout 每跳转发的节点数
	Fanout int `json:"fanout" yaml:"fanout"`

	// HistorySize 已见消息历史上限
	HistorySize int `json:"history_size" yaml:"history_size"`
}

// DHTConfig 值存储配置
type DHTConfig struct {
	// MaxRecords 最大记录数
	MaxRecords int `json:"max_records" yaml:"max_records"`

	// RecordTTL 记录默认存活时间
	RecordTTL Duration `json:"record_ttl" yaml:"record_ttl"`

	// ReplicationFactor 写入时复制到的最近节点数
	ReplicationFactor int `json:"replication_factor" yaml:"replication_factor"`
}

// ConsensusConfig 共识协议配置
type ConsensusConfig struct {
	// QuorumThreshold 提交所需的赞成比例
	QuorumThreshold float64 `json:"quorum_threshold" yaml:"quorum_threshold"`

	// RoundTimeout 轮次截止时间
	RoundTimeout Duration `json:"round_timeout" yaml:"round_timeout"`
}

// TransportConfig 传输层配置
type TransportConfig struct {
	// Path WebSocket 升级路径
	Path string `json:"path" yaml:"path"`

	// MaxMessageSize 单条消息最大字节数
	MaxMessageSize int `json:"max_message_size" yaml:"max_message_size"`

	// DialTimeout 连接超时
	DialTimeout Duration `json:"dial_timeout" yaml:"dial_timeout"`

	// InboundRate 每个对端每秒允许的入站消息数
	InboundRate float64 `json:"inbound_rate" yaml:"inbound_rate"`

	// InboundBurst 入站突发上限
	InboundBurst int `json:"inbound_burst" yaml:"inbound_burst"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		ListenAddress:         "127.0.0.1:0",
		MaxConnections:        50,
		TargetConnections:     20,
		EnableRelay:           true,
		EnableDHT:             true,
		EnableGossip:          true,
		PeerDiscoveryInterval: Duration(60 * time.Second),
		HeartbeatInterval:     Duration(30 * time.Second),
		StalePeerAge:          Duration(300 * time.Second),
		DiscoverySampleSize:   3,
		Gossip:                DefaultGossipConfig(),
		DHT:                   DefaultDHTConfig(),
		Consensus:             DefaultConsensusConfig(),
		Transport:             DefaultTransportConfig(),
	}
}

// DefaultGossipConfig 默认广播配置
func DefaultGossipConfig() GossipConfig {
	return GossipConfig{
		Fanout:      6,
		HistorySize: 1000,
	}
}

// DefaultDHTConfig 默认值存储配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		MaxRecords:        10000,
		RecordTTL:         Duration(24 * time.Hour),
		ReplicationFactor: 3,
	}
}

// DefaultConsensusConfig 默认共识配置
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		QuorumThreshold: 0.67,
		RoundTimeout:    Duration(30 * time.Second),
	}
}

// DefaultTransportConfig 默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Path:           "/meshnet",
		MaxMessageSize: 4 << 20,
		DialTimeout:    Duration(10 * time.Second),
		InboundRate:    200,
		InboundBurst:   400,
	}
}
