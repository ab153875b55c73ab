// Package transport 定义传输层的公共错误
//
// 具体实现位于子包：
//
//   - memory：进程内传输，用于测试与多节点模拟
//   - websocket：基于 gorilla/websocket 的网络传输
//
// 两者都实现 interfaces.Transport，消息以 wire 编码的信封传输。
//
// # 回调约定
//
// 入站消息与连接变化回调在传输层自己的 goroutine 中调用，
// 调用时不持有任何内部锁，回调内可以安全地再调用 Send/Disconnect。
//
// # 并发安全
//
// 所有实现使用 sync.RWMutex 保护连接表。
package transport
