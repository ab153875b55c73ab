package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	// Registry 外部 Registry（可选），为空时使用独立 Registry
	Registry *prometheus.Registry `optional:"true"`
}

// ModuleOutput 定义模块输出服务
type ModuleOutput struct {
	fx.Out

	Recorder *Recorder
	Metrics  *Metrics
}

// ProvideServices 提供指标服务
func ProvideServices(input ModuleInput) ModuleOutput {
	rec := NewRecorder(input.Registry)
	return ModuleOutput{
		Recorder: rec,
		Metrics:  New(rec),
	}
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideServices),
	)
}
