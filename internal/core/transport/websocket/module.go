package websocket

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
)

// ModuleInput Fx 输入
type ModuleInput struct {
	fx.In

	Config   *config.Config `optional:"true"`
	Identity interfaces.IdentityProvider
}

// ModuleOutput Fx 输出
type ModuleOutput struct {
	fx.Out

	Transport interfaces.Transport
}

// ProvideTransport 提供 WebSocket 传输
//
// 监听由 overlay 节点在启动时发起，这里只负责在停止时关闭。
func ProvideTransport(lc fx.Lifecycle, input ModuleInput) ModuleOutput {
	t := New(ConfigFromUnified(input.Config), input.Identity)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return t.StopListening()
		},
	})
	return ModuleOutput{Transport: t}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("transport/websocket",
		fx.Provide(ProvideTransport),
	)
}
