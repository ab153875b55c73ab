package dht

import (
	"github.com/benbjohnson/clock"
)

// ============================================================================
//                              选项
// ============================================================================

type options struct {
	clock clock.Clock
}

// Option RoutingTable / RecordStore 选项
type Option func(*options)

// WithClock 使用指定时钟（测试中传入 clock.NewMock()）
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func applyOptions(opts []Option) options {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
