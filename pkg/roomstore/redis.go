package roomstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldVersion = "v"
	fieldData    = "d"
)

// RedisStore implements Store on top of Redis. Each key is a hash holding the
// serialized value and its version; CAS is WATCH + MULTI/EXEC on that hash.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	seqKey string
}

// NewRedisStore builds a store scoped under the provided prefix (e.g., "webrtc").
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "webrtc"
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: p,
		seqKey: fmt.Sprintf("%s:rooms:seq", p),
	}
}

func (s *RedisStore) roomKey(key string) string {
	return fmt.Sprintf("%s:rooms:%s", s.prefix, key)
}

// Get returns the value and version stored under key, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, error) {
	vals, err := s.rdb.HMGet(ctx, s.roomKey(key), fieldVersion, fieldData).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("redis hmget: %w", err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return Entry{}, ErrNotFound
	}
	raw, _ := vals[0].(string)
	ver, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("parse version %q: %w", raw, err)
	}
	data, _ := vals[1].(string)
	return Entry{Value: []byte(data), Version: Version(ver)}, nil
}

// CreateIfAbsent stores value under key only if the key does not exist yet.
func (s *RedisStore) CreateIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	k := s.roomKey(key)
	created := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		if err := s.write(ctx, tx, k, value, ttl); err != nil {
			return err
		}
		created = true
		return nil
	}, k)
	return s.settle(created, err)
}

// CompareAndSwap replaces the value under key if its version is still expected.
func (s *RedisStore) CompareAndSwap(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (bool, error) {
	k := s.roomKey(key)
	swapped := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ok, err := s.versionMatches(ctx, tx, k, expected)
		if err != nil || !ok {
			return err
		}
		if err := s.write(ctx, tx, k, value, ttl); err != nil {
			return err
		}
		swapped = true
		return nil
	}, k)
	return s.settle(swapped, err)
}

// CompareAndDelete removes key if its version is still expected.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected Version) (bool, error) {
	k := s.roomKey(key)
	deleted := false
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		ok, err := s.versionMatches(ctx, tx, k, expected)
		if err != nil || !ok {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, k)
	return s.settle(deleted, err)
}

func (s *RedisStore) versionMatches(ctx context.Context, tx *redis.Tx, k string, expected Version) (bool, error) {
	current, err := tx.HGet(ctx, k, fieldVersion).Uint64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return Version(current) == expected, nil
}

// write allocates the next version and stores value under the watched key.
func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, k string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	next, err := tx.Incr(ctx, s.seqKey).Uint64()
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, fieldData, value, fieldVersion, next)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// settle maps a lost WATCH race to a plain false.
func (s *RedisStore) settle(done bool, err error) (bool, error) {
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis transaction: %w", err)
	}
	return done, nil
}
