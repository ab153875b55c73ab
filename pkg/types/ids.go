package types

import (
	"encoding/hex"
	"errors"
	"strings"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerIDLength PeerID 的十六进制字符长度（256 位）
const PeerIDLength = 64

// ErrInvalidPeerID 无效的 PeerID
var ErrInvalidPeerID = errors.New("invalid peer ID: must be 64 hex characters")

// PeerID 节点唯一标识符
//
// 由公钥的 SHA-256 哈希派生，使用小写十六进制表示。
// 创建后不可变，是距离计算与相等比较的唯一依据。
type PeerID string

// EmptyPeerID 空节点 ID
const EmptyPeerID PeerID = ""

// String 返回完整字符串表示
func (id PeerID) String() string {
	return string(id)
}

// ShortString 返回前 8 个字符，用于日志
func (id PeerID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsEmpty 检查是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Validate 检查格式是否为 64 位十六进制
func (id PeerID) Validate() error {
	if len(id) != PeerIDLength {
		return ErrInvalidPeerID
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return ErrInvalidPeerID
	}
	return nil
}

// ParsePeerID 解析并规范化 PeerID（统一为小写）
func ParsePeerID(s string) (PeerID, error) {
	id := PeerID(strings.ToLower(strings.TrimSpace(s)))
	if err := id.Validate(); err != nil {
		return EmptyPeerID, err
	}
	return id, nil
}

// PeerIDFromDigest 从 32 字节摘要创建 PeerID
func PeerIDFromDigest(digest []byte) (PeerID, error) {
	if len(digest) != PeerIDLength/2 {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerID(hex.EncodeToString(digest)), nil
}

// ============================================================================
//                              PeerIdentity - 节点身份
// ============================================================================

// PeerIdentity 节点身份
//
// 两个身份相等当且仅当 ID 相同；排序按 ID 字典序（用于确定性的平局裁决）。
type PeerIdentity struct {
	// ID 规范标识符
	ID PeerID `json:"id" cbor:"1,keyasint"`

	// PublicKey 公钥的文本编码（Base58），对本包而言是不透明字符串
	PublicKey string `json:"public_key" cbor:"2,keyasint,omitempty"`
}

// Equal 比较两个身份是否相等
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.ID == other.ID
}

// Less 按 ID 字典序比较
func (p PeerIdentity) Less(other PeerIdentity) bool {
	return p.ID < other.ID
}

// IsEmpty 检查身份是否为空
func (p PeerIdentity) IsEmpty() bool {
	return p.ID.IsEmpty()
}

// String 返回短标识
func (p PeerIdentity) String() string {
	return p.ID.ShortString()
}
