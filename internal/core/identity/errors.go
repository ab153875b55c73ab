package identity

import "errors"

// ============================================================================
// 错误定义
// ============================================================================

var (
	// ErrInvalidPublicKey 公钥编码无效
	ErrInvalidPublicKey = errors.New("identity: invalid public key")

	// ErrInvalidSeed 种子长度无效
	ErrInvalidSeed = errors.New("identity: invalid seed size")

	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrInvalidKeySize 对称密钥长度无效
	ErrInvalidKeySize = errors.New("identity: invalid key size")

	// ErrCiphertextTooShort 密文长度不足
	ErrCiphertextTooShort = errors.New("identity: ciphertext too short")

	// ErrDecryptFailed 解密或认证失败
	ErrDecryptFailed = errors.New("identity: decrypt failed")
)
