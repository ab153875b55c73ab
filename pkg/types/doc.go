// Package types 定义 meshnet 的公共数据类型
//
// 这是整个系统的最底层包，不依赖任何其他 meshnet 内部包。
//
// 文件组织：
//   - ids.go      - PeerID、PeerIdentity
//   - peer.go     - PeerRecord
//   - message.go  - MessageType、Message 信封
package types
