package identity

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
)

var logger = log.Logger("core/identity")

// ============================================================================
//                              模块输入输出
// ============================================================================

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config *config.Config

	// Provider 外部注入的身份（可选，优先于配置）
	Provider *Provider `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Identity interfaces.IdentityProvider
}

// ProvideServices 提供模块服务
//
// 优先级：注入的 Provider > IdentityPath > 临时身份。
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	p := input.Provider
	if p == nil {
		var err error
		if input.Config.IdentityPath != "" {
			p, err = LoadOrGenerate(input.Config.IdentityPath)
		} else {
			p, err = Generate()
		}
		if err != nil {
			return ModuleOutput{}, err
		}
	}

	logger.Info("本地身份就绪", "peer", log.TruncateID(string(p.LocalIdentity().ID), 8))
	return ModuleOutput{Identity: p}, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("identity",
		fx.Provide(ProvideServices),
	)
}
