// Package kvstore is the low-latency cache and leader-election layer,
// backed by Redis. It is never the source of truth for UserOperation or
// Bundle state — relstore is — but it backs the bundler's fencing lock and
// holds the mempool's mempool:<hash> cache entries. Sender/nonce lookups go
// to relstore, not here.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseLockScript atomically checks the lock's token before deleting it,
// so a worker can never release a lock it no longer holds (e.g. after its
// TTL expired and another worker acquired it).
const releaseLockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Store implements mempool.KVStore over a single Redis connection.
type Store struct {
	client *redis.Client
	script *redis.Script
}

// Open connects to Redis at addr.
func Open(addr string) (*Store, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("kvstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &Store{client: client, script: redis.NewScript(releaseLockScript)}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping verifies connectivity, used by the health check.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Set stores a key with no expiration.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("kvstore: set %s: %w", key, err)
	}
	return nil
}

// Get returns a key's value and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kvstore: get %s: %w", key, err)
	}
	return v, true, nil
}

// Del removes a key.
func (s *Store) Del(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kvstore: del %s: %w", key, err)
	}
	return nil
}

// AcquireLock takes the named fencing lock for ttlSeconds using SET NX EX,
// returning false (not an error) if another worker already holds it.
func (s *Store) AcquireLock(ctx context.Context, key, token string, ttlSeconds int64) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, token, secondsToDuration(ttlSeconds)).Result()
	if err != nil {
		return false, fmt.Errorf("kvstore: acquire lock %s: %w", key, err)
	}
	return ok, nil
}

// ReleaseLock releases the named lock only if token still matches its
// current holder, via an atomic Lua script.
func (s *Store) ReleaseLock(ctx context.Context, key, token string) error {
	if err := s.script.Run(ctx, s.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("kvstore: release lock %s: %w", key, err)
	}
	return nil
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
