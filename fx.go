package meshnet

import (
	"fmt"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/core/transport/websocket"
	"github.com/dep2p/go-meshnet/internal/overlay"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/lib/log"
)

var fxLogger = log.Logger("meshnet/fx")

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. 配置、身份、指标
//  2. 传输：自定义传输 > 内存 Hub > WebSocket
//  3. overlay 节点
//  4. 用户扩展
func buildFxApp(o *options, node *Node) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 基础组件
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(o.config),
		identity.Module(),
		metrics.Module(),
	}
	if o.identity != nil {
		modules = append(modules, fx.Supply(o.identity))
	}
	if o.registry != nil {
		modules = append(modules, fx.Supply(o.registry))
	}
	if o.clock != nil {
		c := o.clock
		modules = append(modules, fx.Provide(func() clock.Clock { return c }))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 传输层
	// ════════════════════════════════════════════════════════════════════════
	switch {
	case o.transport != nil:
		t := o.transport
		modules = append(modules, fx.Provide(func() interfaces.Transport { return t }))
		fxLogger.Debug("使用自定义传输")
	case o.hub != nil:
		hub := o.hub
		modules = append(modules, fx.Provide(func(id interfaces.IdentityProvider) interfaces.Transport {
			return hub.NewTransport(id.LocalIdentity())
		}))
		fxLogger.Debug("使用内存传输")
	default:
		modules = append(modules, websocket.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 覆盖网络节点
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, overlay.Module())

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	if len(o.userFxOptions) > 0 {
		modules = append(modules, o.userFxOptions...)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 6. Node 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Populate(&node.overlay, &node.recorder),
		fx.WithLogger(newFxEventLogger(o.fxLogging)),
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// newFxEventLogger 返回 fx 事件日志构造函数，默认静默
func newFxEventLogger(enable bool) func() fxevent.Logger {
	return func() fxevent.Logger {
		if !enable {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}
		return &fxevent.ZapLogger{Logger: l}
	}
}
