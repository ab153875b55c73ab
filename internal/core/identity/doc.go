// Package identity 提供本地节点身份与密码学原语
//
// 身份由两对密钥组成：
//   - Ed25519 签名密钥：消息与 DHT 记录签名
//   - X25519 协商密钥：点对点加密的共享密钥派生
//
// 文本形式：
//   - PublicKey = base58(ed25519 公钥 ‖ x25519 公钥)
//   - PeerID    = hex(sha256(ed25519 公钥))
//
// 加密数据使用 XChaCha20-Poly1305，密钥由 X25519 共享点经 HKDF-SHA256 派生。
package identity
