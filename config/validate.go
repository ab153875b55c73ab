package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNilConfig 配置为空
var ErrNilConfig = errors.New("config is nil")

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}

	if strings.TrimSpace(c.ListenAddress) == "" {
		return errors.New("listen_address must not be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.TargetConnections < 0 || c.TargetConnections > c.MaxConnections {
		return fmt.Errorf("target_connections must be in [0, %d]", c.MaxConnections)
	}
	if c.PeerDiscoveryInterval <= 0 {
		return errors.New("peer_discovery_interval must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat_interval must be positive")
	}
	if c.StalePeerAge <= 0 {
		return errors.New("stale_peer_age must be positive")
	}
	if c.DiscoverySampleSize < 0 {
		return errors.New("discovery_sample_size must not be negative")
	}

	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.DHT.Validate(); err != nil {
		return fmt.Errorf("dht: %w", err)
	}
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return nil
}

// Validate 验证广播配置
func (c GossipConfig) Validate() error {
	if c.Fanout <= 0 {
		return errors.New("fanout must be positive")
	}
	if c.HistorySize <= 0 {
		return errors.New("history_size must be positive")
	}
	return nil
}

// Validate 验证值存储配置
func (c DHTConfig) Validate() error {
	if c.MaxRecords <= 0 {
		return errors.New("max_records must be positive")
	}
	if c.RecordTTL <= 0 {
		return errors.New("record_ttl must be positive")
	}
	if c.ReplicationFactor < 0 {
		return errors.New("replication_factor must not be negative")
	}
	return nil
}

// Validate 验证共识配置
func (c ConsensusConfig) Validate() error {
	if c.QuorumThreshold <= 0 || c.QuorumThreshold > 1 {
		return errors.New("quorum_threshold must be in (0, 1]")
	}
	if c.RoundTimeout <= 0 {
		return errors.New("round_timeout must be positive")
	}
	return nil
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return errors.New("path must start with '/'")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if c.InboundRate <= 0 || c.InboundBurst <= 0 {
		return errors.New("inbound_rate and inbound_burst must be positive")
	}
	return nil
}

// MustValidate 验证配置，如果失败则 panic
//
// 仅用于初始化阶段或测试代码。
func MustValidate(c *Config) {
	if err := c.Validate(); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
}
