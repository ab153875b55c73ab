package dht

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// peerIDFromKey 由键构造 PeerID
func peerIDFromKey(k Key) types.PeerID {
	return types.PeerID(hex.EncodeToString(k[:]))
}

// keyWithBit 返回只有第 bit 位（从最低位计）置 1 的键
func keyWithBit(bit int) Key {
	var k Key
	k[len(k)-1-bit/8] = 1 << (bit % 8)
	return k
}

// ============================================================================
// XORDistance 测试
// ============================================================================

// TestXORDistance_Symmetric 测试距离对称且自身距离为 0
func TestXORDistance_Symmetric(t *testing.T) {
	ids := []string{
		strings.Repeat("a", 64),
		strings.Repeat("0", 63) + "1",
		"some-dht-key",
		"another/key",
	}

	for _, a := range ids {
		assert.Equal(t, Key{}, Distance(a, a), "dist(%s,%s)", a, a)
		for _, b := range ids {
			assert.Equal(t, Distance(a, b), Distance(b, a))
		}
	}
}

// TestKeyspace 测试键空间映射
func TestKeyspace(t *testing.T) {
	id := strings.Repeat("0f", 32)
	k := Keyspace(id)
	assert.Equal(t, byte(0x0f), k[0])
	assert.Equal(t, byte(0x0f), k[31])

	// 非十六进制的 64 字符串走哈希
	notHex := strings.Repeat("z", 64)
	assert.NotEqual(t, Key{}, Keyspace(notHex))
	assert.Equal(t, Keyspace(notHex), Keyspace(notHex))

	assert.NotEqual(t, Keyspace("a"), Keyspace("b"))
}

// TestBucketIndex 测试桶索引
func TestBucketIndex(t *testing.T) {
	var zero Key
	assert.Equal(t, -1, BucketIndex(zero, zero))

	for _, bit := range []int{0, 1, 7, 8, 100, 255} {
		assert.Equal(t, bit, BucketIndex(zero, keyWithBit(bit)), "bit %d", bit)
	}

	// 只看最高置位
	k := keyWithBit(10)
	k[31] = 0xff
	assert.Equal(t, 10, BucketIndex(zero, k))
	assert.Equal(t, BucketIndex(zero, k), BucketIndex(k, zero))
}

// TestCompareDistance 测试距离比较
func TestCompareDistance(t *testing.T) {
	var target Key
	near := keyWithBit(1)
	far := keyWithBit(200)

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.Equal(t, 0, CompareDistance(near, near, target))
}

func TestPeerIDFromKey(t *testing.T) {
	id := peerIDFromKey(keyWithBit(3))
	require.NoError(t, id.Validate(), fmt.Sprint(id))
	assert.Equal(t, keyWithBit(3), Keyspace(string(id)))
}
