package mocks

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/types"
)

// mockSignaturePrefix 模拟签名前缀
var mockSignaturePrefix = []byte("mock-sig:")

// MockIdentity 模拟 IdentityProvider 接口实现
//
// 默认签名为 "mock-sig:" 加原始数据，Verify 只检查该格式，不校验公钥。
type MockIdentity struct {
	// 基本属性
	Identity     types.PeerIdentity
	SharedSecret []byte

	// 可覆盖的方法
	SignFunc               func(data []byte) ([]byte, error)
	VerifyFunc             func(data, signature []byte, publicKey string) bool
	DeriveSharedSecretFunc func(peerPublicKey string) ([]byte, error)
	HashFunc               func(data []byte) string

	// 调用记录
	SignCalls atomic.Int64
}

var _ interfaces.IdentityProvider = (*MockIdentity)(nil)

// NewMockIdentity 创建带有默认值的 MockIdentity
func NewMockIdentity(id types.PeerID, publicKey string) *MockIdentity {
	return &MockIdentity{
		Identity:     types.PeerIdentity{ID: id, PublicKey: publicKey},
		SharedSecret: bytes.Repeat([]byte{0x42}, 32),
	}
}

// LocalIdentity 返回本地身份
func (m *MockIdentity) LocalIdentity() types.PeerIdentity {
	return m.Identity
}

// Sign 签名数据
func (m *MockIdentity) Sign(data []byte) ([]byte, error) {
	m.SignCalls.Add(1)
	if m.SignFunc != nil {
		return m.SignFunc(data)
	}
	return append(append([]byte(nil), mockSignaturePrefix...), data...), nil
}

// Verify 验证签名
func (m *MockIdentity) Verify(data, signature []byte, publicKey string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(data, signature, publicKey)
	}
	return bytes.HasPrefix(signature, mockSignaturePrefix) &&
		bytes.Equal(signature[len(mockSignaturePrefix):], data)
}

// DeriveSharedSecret 返回固定共享密钥
func (m *MockIdentity) DeriveSharedSecret(peerPublicKey string) ([]byte, error) {
	if m.DeriveSharedSecretFunc != nil {
		return m.DeriveSharedSecretFunc(peerPublicKey)
	}
	return append([]byte(nil), m.SharedSecret...), nil
}

// Hash 返回 SHA-256 十六进制
func (m *MockIdentity) Hash(data []byte) string {
	if m.HashFunc != nil {
		return m.HashFunc(data)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
