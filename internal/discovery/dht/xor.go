package dht

import (
	"bytes"
	"encoding/hex"
	"math/bits"

	"github.com/minio/sha256-simd"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// KeySize 键空间位数
const KeySize = 256

// Key 256 位键空间中的点
type Key [KeySize / 8]byte

// Keyspace 将字符串映射到键空间
//
// 64 位十六进制串直接解码，其余字符串取 SHA-256。
func Keyspace(s string) Key {
	var k Key
	if len(s) == types.PeerIDLength {
		if n, err := hex.Decode(k[:], []byte(s)); err == nil && n == len(k) {
			return k
		}
	}
	return Key(sha256.Sum256([]byte(s)))
}

// XORDistance 计算两个键的 XOR 距离（大端序）
func XORDistance(a, b Key) Key {
	var d Key
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Distance 计算两个字符串在键空间中的距离
func Distance(a, b string) Key {
	return XORDistance(Keyspace(a), Keyspace(b))
}

// CompareDistance 比较 a 和 b 到 target 的距离
// 返回：
//
//	-1 如果 dist(a, target) < dist(b, target)
//	 0 如果 dist(a, target) == dist(b, target)
//	 1 如果 dist(a, target) > dist(b, target)
func CompareDistance(a, b, target Key) int {
	da := XORDistance(a, target)
	db := XORDistance(b, target)
	return bytes.Compare(da[:], db[:])
}

// BucketIndex 计算 remote 相对 local 所在的 K 桶
//
// 索引为 XOR 距离最高置位的位置（从最低位起计数，0-255）；
// 两个键相同时返回 -1，不属于任何桶。
func BucketIndex(local, remote Key) int {
	d := XORDistance(local, remote)
	for i, b := range d {
		if b != 0 {
			return (len(d)-1-i)*8 + bits.Len8(b) - 1
		}
	}
	return -1
}
