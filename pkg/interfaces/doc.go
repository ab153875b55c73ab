// Package interfaces 定义 meshnet 的外部协作者接口
//
// 核心组件从不直接打开 socket，也不直接接触密钥材料，
// 而是通过这里的扁平接口与外部协作：
//   - transport.go      - 传输层（监听、连接、发送、入站回调）
//   - identity.go       - 身份与签名提供者
package interfaces
