package dht

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// ============================================================================
//                              StoredRecord
// ============================================================================

// StoredRecord DHT 值记录
type StoredRecord struct {
	Key         string
	Value       []byte
	Publisher   types.PeerIdentity
	PublishedAt time.Time
	ExpiresAt   time.Time
	Signature   []byte
}

// IsExpired 检查在 now 时刻是否已过期（now >= expiresAt）
func (r *StoredRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Clone 深拷贝
func (r *StoredRecord) Clone() *StoredRecord {
	c := *r
	c.Value = append([]byte(nil), r.Value...)
	c.Signature = append([]byte(nil), r.Signature...)
	return &c
}

// ============================================================================
//                              RecordStore
// ============================================================================

// RecordStore 值存储
//
// 同一键后写覆盖先写；过期记录在读取时视为不存在，
// 由 CleanupExpired 物理删除。
type RecordStore struct {
	maxRecords int
	defaultTTL time.Duration
	clock      clock.Clock

	mu      sync.RWMutex
	records map[string]*StoredRecord
}

// NewRecordStore 创建值存储
func NewRecordStore(maxRecords int, defaultTTL time.Duration, opts ...Option) *RecordStore {
	o := applyOptions(opts)
	return &RecordStore{
		maxRecords: maxRecords,
		defaultTTL: defaultTTL,
		clock:      o.clock,
		records:    make(map[string]*StoredRecord),
	}
}

// Now 返回存储使用的当前时间
func (s *RecordStore) Now() time.Time {
	return s.clock.Now()
}

// Put 以当前时间发布记录
//
// ttl <= 0 时使用默认 TTL。存储已满且 key 为新键时，
// 先清理过期记录，仍满则返回 false。
func (s *RecordStore) Put(key string, value []byte, publisher types.PeerIdentity, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	now := s.clock.Now()
	return s.Store(&StoredRecord{
		Key:         key,
		Value:       append([]byte(nil), value...),
		Publisher:   publisher,
		PublishedAt: now,
		ExpiresAt:   now.Add(ttl),
	})
}

// Store 保存完整记录（用于复制来的记录）
//
// 要求 expiresAt > publishedAt 且尚未过期。
func (s *RecordStore) Store(record *StoredRecord) bool {
	if record == nil || !record.ExpiresAt.After(record.PublishedAt) {
		return false
	}
	now := s.clock.Now()
	if record.IsExpired(now) {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Key]; !exists && len(s.records) >= s.maxRecords {
		s.cleanupLocked(now)
		if len(s.records) >= s.maxRecords {
			return false
		}
	}
	s.records[record.Key] = record.Clone()
	return true
}

// Get 获取未过期的记录
func (s *RecordStore) Get(key string) (*StoredRecord, bool) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	if !ok || r.IsExpired(now) {
		return nil, false
	}
	return r.Clone(), true
}

// Has 检查是否存在未过期的记录
func (s *RecordStore) Has(key string) bool {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[key]
	return ok && !r.IsExpired(now)
}

// Remove 删除记录
func (s *RecordStore) Remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[key]; !ok {
		return false
	}
	delete(s.records, key)
	return true
}

// Keys 返回未过期记录的键（已排序）
func (s *RecordStore) Keys() []string {
	now := s.clock.Now()

	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for k, r := range s.records {
		if !r.IsExpired(now) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys
}

// CleanupExpired 物理删除所有过期记录，返回删除数量
func (s *RecordStore) CleanupExpired() int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanupLocked(now)
}

func (s *RecordStore) cleanupLocked(now time.Time) int {
	count := 0
	for key, r := range s.records {
		if r.IsExpired(now) {
			delete(s.records, key)
			count++
		}
	}
	return count
}

// Size 返回物理存储的记录数（含尚未清理的过期记录）
func (s *RecordStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Capacity 返回容量上限
func (s *RecordStore) Capacity() int {
	return s.maxRecords
}
