package roomstore

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	value   []byte
	version Version
	expires time.Time
}

// MemoryStore is a process-local Store for development and tests. It offers
// the same CAS contract as RedisStore but is not shared between instances.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
	seq   Version
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok {
		return Entry{}, ErrNotFound
	}
	return Entry{Value: clone(it.value), Version: it.version}, nil
}

func (s *MemoryStore) CreateIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok || it.version != expected {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key string, expected Version) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.live(key)
	if !ok || it.version != expected {
		return false, nil
	}
	delete(s.items, key)
	return true, nil
}

// live returns the item under key, dropping it if expired. Caller holds mu.
func (s *MemoryStore) live(key string) (memoryItem, bool) {
	it, ok := s.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !s.now().Before(it.expires) {
		delete(s.items, key)
		return memoryItem{}, false
	}
	return it, true
}

// put writes value with a fresh version. Caller holds mu.
func (s *MemoryStore) put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.seq++
	s.items[key] = memoryItem{
		value:   clone(value),
		version: s.seq,
		expires: s.now().Add(ttl),
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
