// Package metrics 提供节点流量统计
//
// Metrics 使用原子计数器，供 Stats 快照读取；
// 可选的 Recorder 将同样的事件导出为 Prometheus 指标，nil Recorder 为空操作。
package metrics
