// Package redisstore provides an optional distributed backend for the
// Memory Bus's Working tier (spec §4.8): TTL-bounded, problem-isolated
// key/value storage, backed by Redis instead of the in-process map. A
// deployment reaches for this when the Working tier needs to survive
// process restarts or be shared across kernel instances; the kernel's
// default remains memory.Bus's in-process map.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store persists Working-tier entries in Redis, namespaced per problem_id
// so one problem's keys never collide with another's.
type Store struct {
	rdb       *redis.Client
	keyPrefix string
}

// Options configures the Store.
type Options struct {
	Client    *redis.Client
	KeyPrefix string
}

// New builds a Store from an injected Redis client.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("redisstore: client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "kernel:working"
	}
	return &Store{rdb: opts.Client, keyPrefix: prefix}, nil
}

func (s *Store) redisKey(problemID, key string) string {
	return s.keyPrefix + ":" + problemID + ":" + key
}

// Write stores value under (problemID, key) with the given TTL.
func (s *Store) Write(ctx context.Context, problemID, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.redisKey(problemID, key), payload, ttl).Err()
}

// Read returns the value for (problemID, key), or false if absent/expired.
func (s *Store) Read(ctx context.Context, problemID, key string, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, s.redisKey(problemID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the entry for (problemID, key).
func (s *Store) Delete(ctx context.Context, problemID, key string) error {
	return s.rdb.Del(ctx, s.redisKey(problemID, key)).Err()
}

// Renew refreshes the TTL for an existing entry without reading its value.
func (s *Store) Renew(ctx context.Context, problemID, key string, ttl time.Duration) error {
	ok, err := s.rdb.Expire(ctx, s.redisKey(problemID, key), ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("redisstore: key missing, cannot renew TTL")
	}
	return nil
}
