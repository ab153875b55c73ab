package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-meshnet/config"
	"github.com/dep2p/go-meshnet/internal/core/identity"
	"github.com/dep2p/go-meshnet/internal/core/metrics"
	"github.com/dep2p/go-meshnet/internal/core/transport/memory"
	"github.com/dep2p/go-meshnet/pkg/interfaces"
)

// TestModule_Lifecycle 测试 fx 生命周期驱动节点启停
func TestModule_Lifecycle(t *testing.T) {
	hub := memory.NewHub()
	var node *Node
	var m *metrics.Metrics

	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		identity.Module(),
		metrics.Module(),
		fx.Provide(func(id interfaces.IdentityProvider) interfaces.Transport {
			return hub.NewTransport(id.LocalIdentity())
		}),
		Module(),
		fx.Populate(&node, &m),
	)
	require.NotNil(t, node)
	assert.False(t, node.IsStarted())

	app.RequireStart()
	assert.True(t, node.IsStarted())
	assert.Equal(t, 1, hub.Listeners())
	assert.Same(t, m, node.metrics)

	app.RequireStop()
	assert.False(t, node.IsStarted())
	assert.Equal(t, 0, hub.Listeners())
}
