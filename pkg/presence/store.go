package presence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Locate when no instance holds the peer.
var ErrNotFound = errors.New("presence: peer not connected")

// Store tracks which service instance holds each connected peer. Peer keys
// are opaque to the store; the signaling hub uses "room/client".
type Store interface {
	// Reset drops every peer registered by this instance.
	Reset(ctx context.Context) error
	AddPeer(ctx context.Context, id string) error
	// RemovePeer drops id unless another instance has taken it over.
	RemovePeer(ctx context.Context, id string) error
	Locate(ctx context.Context, id string) (string, error)
}

var removeIfOwner = redis.NewScript(`
if redis.call("HGET", KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

// RedisStore implements Store with a Redis hash of peer -> instance id.
type RedisStore struct {
	rdb      *redis.Client
	keyPeers string
	instance string
}

// NewRedisStore builds a presence store backed by Redis. Prefix is optional (e.g., "webrtc").
func NewRedisStore(rdb *redis.Client, prefix, instance string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "webrtc"
	}
	return &RedisStore{
		rdb:      rdb,
		keyPeers: fmt.Sprintf("%s:peers", p),
		instance: instance,
	}
}

func (s *RedisStore) Reset(ctx context.Context) error {
	owners, err := s.rdb.HGetAll(ctx, s.keyPeers).Result()
	if err != nil {
		return err
	}
	var mine []string
	for id, owner := range owners {
		if owner == s.instance {
			mine = append(mine, id)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	return s.rdb.HDel(ctx, s.keyPeers, mine...).Err()
}

func (s *RedisStore) AddPeer(ctx context.Context, id string) error {
	return s.rdb.HSet(ctx, s.keyPeers, id, s.instance).Err()
}

func (s *RedisStore) RemovePeer(ctx context.Context, id string) error {
	return removeIfOwner.Run(ctx, s.rdb, []string{s.keyPeers}, id, s.instance).Err()
}

func (s *RedisStore) Locate(ctx context.Context, id string) (string, error) {
	owner, err := s.rdb.HGet(ctx, s.keyPeers, id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return owner, nil
}

// MemoryStore is a single-instance Store.
type MemoryStore struct {
	mu       sync.RWMutex
	peers    map[string]string
	instance string
}

func NewMemoryStore(instance string) *MemoryStore {
	return &MemoryStore{peers: make(map[string]string), instance: instance}
}

func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.peers {
		if owner == s.instance {
			delete(s.peers, id)
		}
	}
	return nil
}

func (s *MemoryStore) AddPeer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[id] = s.instance
	return nil
}

func (s *MemoryStore) RemovePeer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.peers[id] == s.instance {
		delete(s.peers, id)
	}
	return nil
}

func (s *MemoryStore) Locate(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.peers[id]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}
