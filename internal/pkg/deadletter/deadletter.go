// Package deadletter is the Redis-backed buffer store for durable writes.
//
// Every entry is a plain string key with its own expiry plus a member in a
// sorted-set index scored by insertion time, so entries can be listed oldest
// first. Index members whose key has expired are pruned lazily on read.
package deadletter

import (
	"context"
	"errors"
	"strings"
	"time"

	redisc "github.com/callmonitor/courier/internal/pkg/redis"
	"github.com/redis/go-redis/v9"
)

const (
	defaultIndexKey = "courier:dlq:index"
	scanPage        = 256
)

// Store implements durable.BufferStore on Redis.
type Store struct {
	rdb   *redis.Client
	index string
	now   func() time.Time
}

func NewStore(rc *redisc.Client) *Store {
	return &Store{rdb: rc.Raw(), index: defaultIndexKey, now: time.Now}
}

// Put stores value with a TTL and indexes it.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, value, ttl)
	pipe.ZAdd(ctx, s.index, redis.Z{
		Score:  float64(s.now().UnixMilli()),
		Member: key,
	})
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the stored value, or nil when the key is absent or expired.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns up to limit live keys starting with prefix, oldest first.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	if limit <= 0 {
		return []string{}, nil
	}
	out := make([]string, 0, limit)
	err := s.scan(ctx, prefix, func(key string) bool {
		out = append(out, key)
		return len(out) < limit
	})
	return out, err
}

// Len counts live entries starting with prefix.
func (s *Store) Len(ctx context.Context, prefix string) (int, error) {
	n := 0
	err := s.scan(ctx, prefix, func(string) bool {
		n++
		return true
	})
	return n, err
}

// Delete removes the key and its index member. Deleting a missing key succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZRem(ctx, s.index, key)
	_, err := pipe.Exec(ctx)
	return err
}

// scan walks the index in score order and calls fn for every live key with
// the given prefix until fn returns false.
func (s *Store) scan(ctx context.Context, prefix string, fn func(key string) bool) error {
	var start int64
	for {
		members, err := s.rdb.ZRange(ctx, s.index, start, start+scanPage-1).Result()
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return nil
		}
		start += int64(len(members))

		candidates := make([]string, 0, len(members))
		for _, m := range members {
			if strings.HasPrefix(m, prefix) {
				candidates = append(candidates, m)
			}
		}
		if len(candidates) == 0 {
			continue
		}

		pipe := s.rdb.Pipeline()
		exists := make([]*redis.IntCmd, len(candidates))
		for i, key := range candidates {
			exists[i] = pipe.Exists(ctx, key)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}

		var stale []interface{}
		stop := false
		for i, key := range candidates {
			if exists[i].Val() == 0 {
				stale = append(stale, key)
				continue
			}
			if !stop && !fn(key) {
				stop = true
			}
		}
		if len(stale) > 0 {
			if err := s.rdb.ZRem(ctx, s.index, stale...).Err(); err != nil {
				return err
			}
			start -= int64(len(stale))
		}
		if stop {
			return nil
		}
	}
}
