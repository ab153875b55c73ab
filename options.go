package meshnet

import (
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/transport/memory"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	config *config.Config

	// 覆盖配置文件中的字段
	listenAddress  string
	nodeName       string
	bootstrapPeers []string
	bootstrapSet   bool

	// 身份
	identity *identity.Provider

	// 传输（二选一，均为空时使用 WebSocket）
	transport interfaces.Transport
	hub       *memory.Hub

	registry *prometheus.Registry
	clock    clock.Clock

	fxLogging     bool
	userFxOptions []fx.Option
}

func newOptions() *options {
	return &options{config: config.NewConfig()}
}

// apply 应用选项并把覆盖字段写回配置
func (o *options) apply(opts []Option) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return fmt.Errorf("apply option: %w", err)
		}
	}

	if o.listenAddress != "" {
		o.config.ListenAddress = o.listenAddress
	}
	if o.nodeName != "" {
		o.config.NodeName = o.nodeName
	}
	if o.bootstrapSet {
		o.config.BootstrapPeers = o.bootstrapPeers
	}
	if o.transport != nil && o.hub != nil {
		return errors.New("WithTransport and WithMemoryHub are mutually exclusive")
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              配置
// ════════════════════════════════════════════════════════════════════════════

// WithConfig 使用完整配置
//
// 后续的字段选项（WithListenAddress 等）仍会覆盖该配置。
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return config.ErrNilConfig
		}
		o.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 或 YAML 文件加载配置
func WithConfigFile(path string) Option {
	return func(o *options) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithListenAddress 设置监听地址（host:port）
func WithListenAddress(addr string) Option {
	return func(o *options) error {
		o.listenAddress = addr
		return nil
	}
}

// WithNodeName 设置节点显示名称
func WithNodeName(name string) Option {
	return func(o *options) error {
		o.nodeName = name
		return nil
	}
}

// WithBootstrapPeers 设置引导节点地址，传入空列表表示不连接任何引导节点
func WithBootstrapPeers(addrs ...string) Option {
	return func(o *options) error {
		o.bootstrapPeers = append([]string(nil), addrs...)
		o.bootstrapSet = true
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份
// ════════════════════════════════════════════════════════════════════════════

// WithIdentitySeed 从 32 字节种子派生身份
func WithIdentitySeed(seed []byte) Option {
	return func(o *options) error {
		p, err := identity.FromSeed(seed)
		if err != nil {
			return err
		}
		o.identity = p
		return nil
	}
}

// WithIdentityFile 从文件加载身份，文件不存在时生成并保存
func WithIdentityFile(path string) Option {
	return func(o *options) error {
		if path == "" {
			return errors.New("identity file path is empty")
		}
		o.config.IdentityPath = path
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              传输
// ════════════════════════════════════════════════════════════════════════════

// WithTransport 使用自定义传输
func WithTransport(t interfaces.Transport) Option {
	return func(o *options) error {
		if t == nil {
			return errors.New("transport is nil")
		}
		o.transport = t
		return nil
	}
}

// WithMemoryHub 使用进程内传输，连接到同一 Hub 的节点互相可达
func WithMemoryHub(hub *MemoryHub) Option {
	return func(o *options) error {
		if hub == nil {
			return errors.New("memory hub is nil")
		}
		o.hub = hub
		return nil
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              运行时
// ════════════════════════════════════════════════════════════════════════════

// WithMetricsRegistry 把指标注册到给定 Registry
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) error {
		o.registry = reg
		return nil
	}
}

// WithClock 使用指定时钟（测试用）
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithFxLogging 输出 fx 依赖注入日志
func WithFxLogging(enable bool) Option {
	return func(o *options) error {
		o.fxLogging = enable
		return nil
	}
}

// WithFxOptions 追加自定义 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
