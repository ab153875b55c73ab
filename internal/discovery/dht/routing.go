package dht

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshnet/pkg/types"
)

// BucketSize K 桶大小
const BucketSize = 20

// ============================================================================
//                              路由表
// ============================================================================

// RoutingTable 路由表
//
// 每个距离类一个桶，桶满时新节点被忽略（无替换策略）。
// 返回给调用方的 PeerRecord 均为副本。
type RoutingTable struct {
	local    types.PeerIdentity
	localKey Key
	clock    clock.Clock

	mu      sync.RWMutex
	buckets [KeySize][]*types.PeerRecord
}

// NewRoutingTable 创建新的路由表
func NewRoutingTable(local types.PeerIdentity, opts ...Option) *RoutingTable {
	o := applyOptions(opts)
	return &RoutingTable{
		local:    local,
		localKey: Keyspace(string(local.ID)),
		clock:    o.clock,
	}
}

// LocalIdentity 返回本地身份
func (rt *RoutingTable) LocalIdentity() types.PeerIdentity {
	return rt.local
}

func (rt *RoutingTable) bucketFor(id types.PeerID) int {
	return BucketIndex(rt.localKey, Keyspace(string(id)))
}

// AddPeer 添加或替换节点，并刷新 lastSeen
//
// 本地身份与桶满时为空操作。
func (rt *RoutingTable) AddPeer(record *types.PeerRecord) {
	if record == nil || record.Identity.Equal(rt.local) {
		return
	}
	idx := rt.bucketFor(record.ID())
	if idx < 0 {
		return
	}

	entry := record.Clone()
	entry.LastSeen = rt.clock.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[idx]
	for i, existing := range bucket {
		if existing.Identity.Equal(entry.Identity) {
			bucket[i] = entry
			return
		}
	}
	if len(bucket) < BucketSize {
		rt.buckets[idx] = append(bucket, entry)
	}
}

// RemovePeer 移除节点
func (rt *RoutingTable) RemovePeer(id types.PeerID) {
	idx := rt.bucketFor(id)
	if idx < 0 {
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	bucket := rt.buckets[idx]
	for i, existing := range bucket {
		if existing.ID() == id {
			rt.buckets[idx] = append(bucket[:i], bucket[i+1:]...)
			return
		}
	}
}

// GetPeer 获取节点
func (rt *RoutingTable) GetPeer(id types.PeerID) (*types.PeerRecord, bool) {
	idx := rt.bucketFor(id)
	if idx < 0 {
		return nil, false
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	for _, existing := range rt.buckets[idx] {
		if existing.ID() == id {
			return existing.Clone(), true
		}
	}
	return nil, false
}

// HasPeer 检查节点是否存在
func (rt *RoutingTable) HasPeer(id types.PeerID) bool {
	_, ok := rt.GetPeer(id)
	return ok
}

// Touch 刷新节点的 lastSeen
func (rt *RoutingTable) Touch(id types.PeerID) bool {
	idx := rt.bucketFor(id)
	if idx < 0 {
		return false
	}
	now := rt.clock.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for _, existing := range rt.buckets[idx] {
		if existing.ID() == id {
			existing.LastSeen = now
			return true
		}
	}
	return false
}

// ClosestPeers 返回距离 key 最近的 count 个节点
//
// 距离相同时按 ID 字典序。
func (rt *RoutingTable) ClosestPeers(key string, count int) []*types.PeerRecord {
	if count <= 0 {
		return nil
	}
	target := Keyspace(key)

	type candidate struct {
		record *types.PeerRecord
		dist   Key
	}

	rt.mu.RLock()
	candidates := make([]candidate, 0, rt.sizeLocked())
	for _, bucket := range rt.buckets {
		for _, r := range bucket {
			candidates = append(candidates, candidate{
				record: r.Clone(),
				dist:   XORDistance(Keyspace(string(r.ID())), target),
			})
		}
	}
	rt.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		for k := range candidates[i].dist {
			if candidates[i].dist[k] != candidates[j].dist[k] {
				return candidates[i].dist[k] < candidates[j].dist[k]
			}
		}
		return candidates[i].record.Identity.Less(candidates[j].record.Identity)
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}
	out := make([]*types.PeerRecord, len(candidates))
	for i, c := range candidates {
		out[i] = c.record
	}
	return out
}

// RandomPeers 无放回均匀随机抽取 count 个节点
func (rt *RoutingTable) RandomPeers(count int) []*types.PeerRecord {
	if count <= 0 {
		return nil
	}
	all := rt.AllPeers()
	rand.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// EvictStale 移除 lastSeen 早于 maxAge 的节点，返回移除数量
func (rt *RoutingTable) EvictStale(maxAge time.Duration) int {
	cutoff := rt.clock.Now().Add(-maxAge)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	evicted := 0
	for idx, bucket := range rt.buckets {
		kept := bucket[:0]
		for _, r := range bucket {
			if r.LastSeen.Before(cutoff) {
				evicted++
				continue
			}
			kept = append(kept, r)
		}
		for i := len(kept); i < len(bucket); i++ {
			bucket[i] = nil
		}
		rt.buckets[idx] = kept
	}
	return evicted
}

// AllPeers 返回所有节点
func (rt *RoutingTable) AllPeers() []*types.PeerRecord {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	out := make([]*types.PeerRecord, 0, rt.sizeLocked())
	for _, bucket := range rt.buckets {
		for _, r := range bucket {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Size 返回路由表中的节点总数
func (rt *RoutingTable) Size() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.sizeLocked()
}

func (rt *RoutingTable) sizeLocked() int {
	total := 0
	for _, bucket := range rt.buckets {
		total += len(bucket)
	}
	return total
}

// BucketSizes 返回非空桶的索引与大小
func (rt *RoutingTable) BucketSizes() map[int]int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	sizes := make(map[int]int)
	for idx, bucket := range rt.buckets {
		if len(bucket) > 0 {
			sizes[idx] = len(bucket)
		}
	}
	return sizes
}
