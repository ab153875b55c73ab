package overlay

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config    *config.Config
	Identity  interfaces.IdentityProvider
	Transport interfaces.Transport
	Metrics   *metrics.Metrics `optional:"true"`
	Clock     clock.Clock      `optional:"true"`
}

// ProvideNode 创建节点并注册生命周期
func ProvideNode(lc fx.Lifecycle, input ModuleInput) (*Node, error) {
	var opts []Option
	if input.Metrics != nil {
		opts = append(opts, WithMetrics(input.Metrics))
	}
	if input.Clock != nil {
		opts = append(opts, WithClock(input.Clock))
	}

	n, err := New(input.Config, input.Identity, input.Transport, opts...)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return n.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return n.Stop(ctx)
		},
	})
	return n, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("overlay",
		fx.Provide(ProvideNode),
	)
}
