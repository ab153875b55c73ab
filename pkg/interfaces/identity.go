package interfaces

import (
	"github.com/dep2p/go-meshnet/pkg/types"
)

// IdentityProvider 身份与签名提供者
//
// 实现必须使用经过审计的密码学原语。
type IdentityProvider interface {
	// LocalIdentity 返回本地节点身份
	LocalIdentity() types.PeerIdentity

	// Sign 使用本地私钥签名
	Sign(data []byte) ([]byte, error)

	// Verify 使用给定公钥（PeerIdentity.PublicKey 编码）验证签名
	Verify(data, signature []byte, publicKey string) bool

	// DeriveSharedSecret 与对端公钥协商共享密钥
	DeriveSharedSecret(peerPublicKey string) ([]byte, error)

	// Hash 返回数据摘要的十六进制表示
	Hash(data []byte) string
}
