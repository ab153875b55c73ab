// Package dht 实现 Kademlia 路由表与本地值存储
//
// # 模块概述
//
// dht 提供覆盖网络的两个基础结构：
//
//   - RoutingTable: 按本地身份的 XOR 距离分桶记录已知节点，
//     回答"谁离键 X 最近"
//   - RecordStore: 带 TTL 与容量上限的键值存储，惰性过期
//
// 两者都只做本地状态管理，不发送网络消息；
// FIND_NODE / STORE 的收发由 overlay 负责。
//
// # 键空间
//
// 合法的 PeerID（64 位十六进制）直接解码为 256 位键；
// 其他字符串（DHT 键）取 SHA-256 映射到同一键空间。
//
// # 并发
//
// RoutingTable 与 RecordStore 各自持有独立的锁，互不争用。
package dht
