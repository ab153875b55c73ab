package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/dep2p/go-meshnet/pkg/interfaces"
	"github.com/dep2p/go-meshnet/pkg/types"
)

const (
	// SeedSize 身份种子长度
	SeedSize = ed25519.SeedSize

	// SharedSecretSize 共享密钥长度
	SharedSecretSize = 32

	publicKeySize = ed25519.PublicKeySize + curve25519.PointSize

	x25519Info       = "meshnet/x25519-key"
	sharedSecretInfo = "meshnet/shared-secret"
)

// ============================================================================
//                              Provider
// ============================================================================

// Provider 本地身份提供者
type Provider struct {
	seed     []byte
	signKey  ed25519.PrivateKey
	signPub  ed25519.PublicKey
	dhKey    []byte
	dhPub    []byte
	identity types.PeerIdentity
}

// 确保实现接口
var _ interfaces.IdentityProvider = (*Provider)(nil)

// Generate 生成新的随机身份
func Generate() (*Provider, error) {
	seed := make([]byte, SeedSize)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, fmt.Errorf("identity: read random seed: %w", err)
	}
	return FromSeed(seed)
}

// FromSeed 从 32 字节种子确定性地构造身份
//
// X25519 私钥由种子经 HKDF 派生，同一种子总是得到同一身份。
func FromSeed(seed []byte) (*Provider, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}

	signKey := ed25519.NewKeyFromSeed(seed)
	signPub := signKey.Public().(ed25519.PublicKey)

	dhKey := make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, seed, nil, []byte(x25519Info)), dhKey); err != nil {
		return nil, fmt.Errorf("identity: derive x25519 key: %w", err)
	}
	dhPub, err := curve25519.X25519(dhKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: x25519 public key: %w", err)
	}

	p := &Provider{
		seed:    append([]byte(nil), seed...),
		signKey: signKey,
		signPub: signPub,
		dhKey:   dhKey,
		dhPub:   dhPub,
	}
	p.identity = types.PeerIdentity{
		ID:        PeerIDFromSigningKey(signPub),
		PublicKey: EncodePublicKey(signPub, dhPub),
	}
	return p, nil
}

// LocalIdentity 返回本地节点身份
func (p *Provider) LocalIdentity() types.PeerIdentity {
	return p.identity
}

// Sign 使用 Ed25519 私钥签名
func (p *Provider) Sign(data []byte) ([]byte, error) {
	return ed25519.Sign(p.signKey, data), nil
}

// Verify 使用编码后的公钥验证签名
//
// 公钥无法解码或签名长度不对时返回 false。
func (p *Provider) Verify(data, signature []byte, publicKey string) bool {
	return Verify(data, signature, publicKey)
}

// DeriveSharedSecret 与对端协商共享密钥
//
// 双方得到相同的 32 字节密钥：X25519 共享点经 HKDF-SHA256 扩展，
// salt 为两端 X25519 公钥按字节序拼接。
func (p *Provider) DeriveSharedSecret(peerPublicKey string) ([]byte, error) {
	_, peerDH, err := DecodePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}

	shared, err := curve25519.X25519(p.dhKey, peerDH)
	if err != nil {
		return nil, fmt.Errorf("identity: x25519: %w", err)
	}

	salt := make([]byte, 0, 2*curve25519.PointSize)
	if string(p.dhPub) < string(peerDH) {
		salt = append(append(salt, p.dhPub...), peerDH...)
	} else {
		salt = append(append(salt, peerDH...), p.dhPub...)
	}

	key := make([]byte, SharedSecretSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(sharedSecretInfo)), key); err != nil {
		return nil, fmt.Errorf("identity: hkdf: %w", err)
	}
	return key, nil
}

// Hash 返回 SHA-256 摘要的十六进制表示
func (p *Provider) Hash(data []byte) string {
	return Hash(data)
}

// Seed 返回身份种子副本，用于持久化
func (p *Provider) Seed() []byte {
	return append([]byte(nil), p.seed...)
}

// ============================================================================
//                              编码辅助
// ============================================================================

// Hash 返回 SHA-256 摘要的十六进制表示
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PeerIDFromSigningKey 由 Ed25519 公钥派生 PeerID
func PeerIDFromSigningKey(pub ed25519.PublicKey) types.PeerID {
	sum := sha256.Sum256(pub)
	return types.PeerID(hex.EncodeToString(sum[:]))
}

// EncodePublicKey 编码公钥为文本形式
func EncodePublicKey(signPub, dhPub []byte) string {
	buf := make([]byte, 0, publicKeySize)
	buf = append(buf, signPub...)
	buf = append(buf, dhPub...)
	return base58.Encode(buf)
}

// DecodePublicKey 解码文本公钥，返回签名公钥与 X25519 公钥
func DecodePublicKey(s string) (ed25519.PublicKey, []byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != publicKeySize {
		return nil, nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw[:ed25519.PublicKeySize]), raw[ed25519.PublicKeySize:], nil
}

// PeerIDFromPublicKey 由文本公钥派生 PeerID
func PeerIDFromPublicKey(s string) (types.PeerID, error) {
	signPub, _, err := DecodePublicKey(s)
	if err != nil {
		return types.EmptyPeerID, err
	}
	return PeerIDFromSigningKey(signPub), nil
}

// VerifyIdentity 检查身份的 ID 是否由其公钥派生
func VerifyIdentity(id types.PeerIdentity) bool {
	derived, err := PeerIDFromPublicKey(id.PublicKey)
	if err != nil {
		return false
	}
	return derived == id.ID
}

// Verify 使用编码后的公钥验证签名
func Verify(data, signature []byte, publicKey string) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	signPub, _, err := DecodePublicKey(publicKey)
	if err != nil {
		return false
	}
	return ed25519.Verify(signPub, data, signature)
}
