package roomstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test"), mr
}

func stores(t *testing.T) map[string]Store {
	rs, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "h/none")
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_CreateIfAbsent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := s.CreateIfAbsent(ctx, "h/r1", []byte("first"), time.Minute)
			if err != nil || !ok {
				t.Fatalf("expected create to succeed, got ok=%v err=%v", ok, err)
			}
			ok, err = s.CreateIfAbsent(ctx, "h/r1", []byte("second"), time.Minute)
			if err != nil || ok {
				t.Fatalf("expected second create to be refused, got ok=%v err=%v", ok, err)
			}
			e, err := s.Get(ctx, "h/r1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(e.Value) != "first" {
				t.Fatalf("expected first value to win, got %q", e.Value)
			}
		})
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.CreateIfAbsent(ctx, "h/r1", []byte("a"), time.Minute); err != nil {
				t.Fatalf("create: %v", err)
			}
			e, _ := s.Get(ctx, "h/r1")

			ok, err := s.CompareAndSwap(ctx, "h/r1", []byte("b"), e.Version, time.Minute)
			if err != nil || !ok {
				t.Fatalf("expected CAS with fresh version to succeed, got ok=%v err=%v", ok, err)
			}
			ok, err = s.CompareAndSwap(ctx, "h/r1", []byte("c"), e.Version, time.Minute)
			if err != nil || ok {
				t.Fatalf("expected CAS with stale version to fail, got ok=%v err=%v", ok, err)
			}

			after, _ := s.Get(ctx, "h/r1")
			if string(after.Value) != "b" {
				t.Fatalf("expected value b, got %q", after.Value)
			}
			if after.Version <= e.Version {
				t.Fatalf("expected version to advance past %d, got %d", e.Version, after.Version)
			}
		})
	}
}

func TestStore_CompareAndSwapMissingKey(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.CompareAndSwap(context.Background(), "h/ghost", []byte("x"), 1, time.Minute)
			if err != nil || ok {
				t.Fatalf("expected CAS on missing key to fail, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestStore_CompareAndDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = s.CreateIfAbsent(ctx, "h/r1", []byte("a"), time.Minute)
			e, _ := s.Get(ctx, "h/r1")

			ok, err := s.CompareAndDelete(ctx, "h/r1", e.Version+1000)
			if err != nil || ok {
				t.Fatalf("expected delete with wrong version to fail, got ok=%v err=%v", ok, err)
			}
			ok, err = s.CompareAndDelete(ctx, "h/r1", e.Version)
			if err != nil || !ok {
				t.Fatalf("expected delete to succeed, got ok=%v err=%v", ok, err)
			}
			if _, err := s.Get(ctx, "h/r1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected key to be gone, got %v", err)
			}
		})
	}
}

func TestStore_VersionNeverReusedAfterRecreate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = s.CreateIfAbsent(ctx, "h/r1", []byte("a"), time.Minute)
			first, _ := s.Get(ctx, "h/r1")
			_, _ = s.CompareAndDelete(ctx, "h/r1", first.Version)
			_, _ = s.CreateIfAbsent(ctx, "h/r1", []byte("b"), time.Minute)

			ok, err := s.CompareAndSwap(ctx, "h/r1", []byte("stale"), first.Version, time.Minute)
			if err != nil || ok {
				t.Fatalf("expected stale version from a previous incarnation to be rejected, got ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.CreateIfAbsent(ctx, "h/r1", []byte("a"), time.Minute)
	now = now.Add(59 * time.Second)
	if _, err := s.Get(ctx, "h/r1"); err != nil {
		t.Fatalf("expected key to be alive before ttl, got %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := s.Get(ctx, "h/r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestRedisStore_WriteRefreshesTTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_, _ = s.CreateIfAbsent(ctx, "h/r1", []byte("a"), time.Minute)
	mr.FastForward(50 * time.Second)
	e, err := s.Get(ctx, "h/r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ok, err := s.CompareAndSwap(ctx, "h/r1", []byte("b"), e.Version, time.Minute); err != nil || !ok {
		t.Fatalf("cas: ok=%v err=%v", ok, err)
	}
	mr.FastForward(50 * time.Second)
	if _, err := s.Get(ctx, "h/r1"); err != nil {
		t.Fatalf("expected ttl to be refreshed by the write, got %v", err)
	}
	mr.FastForward(11 * time.Second)
	if _, err := s.Get(ctx, "h/r1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key to expire, got %v", err)
	}
}

func TestRedisStore_KeyLayout(t *testing.T) {
	s, mr := newRedisStore(t)
	_, _ = s.CreateIfAbsent(context.Background(), "https://example.org/abc", []byte("a"), time.Minute)
	if !mr.Exists("test:rooms:https://example.org/abc") {
		t.Fatalf("expected prefixed room key, got keys %v", mr.Keys())
	}
}
