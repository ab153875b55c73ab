package dht

import (
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshnet/pkg/types"
)

var testPublisher = identityFor(keyWithBit(7))

func newTestStore(max int) (*RecordStore, *clock.Mock) {
	mock := clock.NewMock()
	return NewRecordStore(max, time.Hour, WithClock(mock)), mock
}

// TestRecordStore_PutGet 测试存取
func TestRecordStore_PutGet(t *testing.T) {
	s, mock := newTestStore(10)

	require.True(t, s.Put("k", []byte("v1"), testPublisher, 0))
	rec, ok := s.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), rec.Value)
	assert.Equal(t, testPublisher, rec.Publisher)
	assert.Equal(t, mock.Now().Add(time.Hour), rec.ExpiresAt)
	assert.True(t, rec.ExpiresAt.After(rec.PublishedAt))

	// 后写覆盖
	other := identityFor(keyWithBit(8))
	require.True(t, s.Put("k", []byte("v2"), other, 0))
	rec, _ = s.Get("k")
	assert.Equal(t, []byte("v2"), rec.Value)
	assert.Equal(t, other, rec.Publisher)
	assert.Equal(t, 1, s.Size())

	// 返回副本
	rec.Value[0] = 'x'
	again, _ := s.Get("k")
	assert.Equal(t, []byte("v2"), again.Value)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

// TestRecordStore_LazyExpiry 测试惰性过期
func TestRecordStore_LazyExpiry(t *testing.T) {
	s, mock := newTestStore(10)

	require.True(t, s.Put("k", []byte("v"), testPublisher, time.Second))
	_, ok := s.Get("k")
	assert.True(t, ok)

	mock.Add(999 * time.Millisecond)
	assert.True(t, s.Has("k"))

	// now == expiresAt 视为过期
	mock.Add(time.Millisecond)
	_, ok = s.Get("k")
	assert.False(t, ok)
	assert.False(t, s.Has("k"))
	assert.Empty(t, s.Keys())

	// 仍然物理存在，直到清理
	assert.Equal(t, 1, s.Size())
	assert.Equal(t, 1, s.CleanupExpired())
	assert.Equal(t, 0, s.Size())
}

// TestRecordStore_Capacity 测试容量上限与过期清理
func TestRecordStore_Capacity(t *testing.T) {
	s, mock := newTestStore(3)

	require.True(t, s.Put("short", []byte("v"), testPublisher, time.Second))
	require.True(t, s.Put("a", []byte("v"), testPublisher, 0))
	require.True(t, s.Put("b", []byte("v"), testPublisher, 0))

	// 已满，新键失败
	assert.False(t, s.Put("c", []byte("v"), testPublisher, 0))
	// 已有键可以覆盖
	assert.True(t, s.Put("a", []byte("v2"), testPublisher, 0))

	// 过期记录被清理后腾出空间
	mock.Add(2 * time.Second)
	assert.True(t, s.Put("c", []byte("v"), testPublisher, 0))
	assert.False(t, s.Has("short"))
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
	assert.Equal(t, 3, s.Capacity())
}

// TestRecordStore_Store 测试保存复制来的记录
func TestRecordStore_Store(t *testing.T) {
	s, mock := newTestStore(10)
	now := mock.Now()

	assert.False(t, s.Store(nil))
	assert.False(t, s.Store(&StoredRecord{Key: "bad", PublishedAt: now, ExpiresAt: now}))
	assert.False(t, s.Store(&StoredRecord{
		Key: "stale", PublishedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	rec := &StoredRecord{
		Key:         "remote",
		Value:       []byte("v"),
		Publisher:   testPublisher,
		PublishedAt: now.Add(-time.Minute),
		ExpiresAt:   now.Add(time.Minute),
		Signature:   []byte("sig"),
	}
	require.True(t, s.Store(rec))
	got, ok := s.Get("remote")
	require.True(t, ok)
	assert.Equal(t, rec, got)
}

// TestRecordStore_Remove 测试删除
func TestRecordStore_Remove(t *testing.T) {
	s, _ := newTestStore(10)
	for i := 0; i < 5; i++ {
		require.True(t, s.Put(fmt.Sprintf("k%d", i), []byte("v"), types.PeerIdentity{}, 0))
	}

	assert.True(t, s.Remove("k2"))
	assert.False(t, s.Remove("k2"))
	assert.False(t, s.Has("k2"))
	assert.Equal(t, []string{"k0", "k1", "k3", "k4"}, s.Keys())
}
