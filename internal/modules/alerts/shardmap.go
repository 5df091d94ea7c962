package alerts

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// shardedMap is a string-keyed concurrent map. Keys are spread over shards by FNV hash
// so that writers for different portfolios rarely contend on the same lock.
type shardedMap[V any] struct {
	shards [shardCount]*mapShard[V]
}

type mapShard[V any] struct {
	items map[string]V
	mu    sync.RWMutex
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *shardedMap[V]) shard(key string) *mapShard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *shardedMap[V]) Get(key string) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

func (m *shardedMap[V]) Set(key string, value V) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Update replaces the value for key with fn(old, exists) while holding the shard lock
func (m *shardedMap[V]) Update(key string, fn func(old V, exists bool) V) V {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.items[key]
	v := fn(old, ok)
	s.items[key] = v
	return v
}

// SetIfAbsent stores value only when key is missing and reports whether it did
func (m *shardedMap[V]) SetIfAbsent(key string, value V) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; ok {
		return false
	}
	s.items[key] = value
	return true
}

func (m *shardedMap[V]) Delete(key string) bool {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[key]
	delete(s.items, key)
	return ok
}

// DeleteIf removes every entry for which pred returns true and returns the number removed
func (m *shardedMap[V]) DeleteIf(pred func(key string, value V) bool) int {
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for k, v := range s.items {
			if pred(k, v) {
				delete(s.items, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Range calls fn for every entry. Each shard is read-locked while it is visited,
// so fn must not write back into the map.
func (m *shardedMap[V]) Range(fn func(key string, value V)) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			fn(k, v)
		}
		s.mu.RUnlock()
	}
}

func (m *shardedMap[V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}

// keyGuard admits at most one holder per key
type keyGuard struct {
	held *shardedMap[struct{}]
}

func newKeyGuard() *keyGuard {
	return &keyGuard{held: newShardedMap[struct{}]()}
}

// TryAcquire returns false if key is already held
func (g *keyGuard) TryAcquire(key string) bool {
	return g.held.SetIfAbsent(key, struct{}{})
}

func (g *keyGuard) Release(key string) {
	g.held.Delete(key)
}

func (g *keyGuard) Held(key string) bool {
	_, busy := g.held.Get(key)
	return busy
}
