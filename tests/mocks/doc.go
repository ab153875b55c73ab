// Package mocks 提供统一的测试 Mock 实现
//
// # 核心 Mock
//
//   - MockTransport: 模拟 interfaces.Transport，记录 Connect/Send 调用，
//     可通过 DeliverMessage / DeliverConnection 从外部驱动回调
//   - MockIdentity: 模拟 interfaces.IdentityProvider，签名为固定前缀加数据
//
// # 设计原则
//
// 1. 函数式注入: 每个 Mock 都支持通过 XxxFunc 字段注入自定义行为
// 2. 调用记录: 关键 Mock 记录调用历史，便于验证测试行为
//
// # 使用示例
//
//	func TestStartFailure(t *testing.T) {
//	    tr := mocks.NewMockTransport("mock-0")
//	    tr.ListenFunc = func(ctx context.Context, addr string) error {
//	        return errors.New("address in use")
//	    }
//	    node, _ := overlay.New(cfg, id, tr)
//	    err := node.Start(ctx)
//	    ...
//	}
package mocks
