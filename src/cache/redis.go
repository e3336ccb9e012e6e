package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// envelope carries the capture time next to the payload so per-read TTLs work
// the same way as in memory.
type envelope struct {
	CapturedAt int64           `json:"capturedAt"`
	Data       json.RawMessage `json:"data"`
}

// globEscaper quotes SCAN MATCH metacharacters so prefixes match literally.
var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// RedisStore shares the cache between relay instances.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	retention time.Duration
	now       func() time.Time
}

// -----------------------------------------------------------------------------

// NewRedisStore wraps client. Keys are namespaced with keyPrefix and expire in
// Redis after retention so abandoned entries do not accumulate.
func NewRedisStore(client *redis.Client, keyPrefix string, retention time.Duration) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		retention: retention,
		now:       time.Now,
	}
}

// -----------------------------------------------------------------------------

// WithClock replaces the time source; used by tests.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Get(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("redis decode %s: %w", key, err)
	}
	if s.now().Sub(time.UnixMilli(env.CapturedAt)) > ttl {
		return nil, false, nil
	}
	return env.Data, true, nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Set(ctx context.Context, key string, payload []byte) error {
	raw, err := json.Marshal(envelope{CapturedAt: s.now().UnixMilli(), Data: payload})
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, raw, s.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key).Err()
}

// -----------------------------------------------------------------------------

func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyPrefix
	}
	keys, err := s.scan(ctx, s.match(prefix))
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	return int(n), err
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := s.scan(ctx, s.match(""))
	if err != nil {
		return 0, err
	}

	now := s.now()
	removed := 0
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, err
		}
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil || now.Sub(time.UnixMilli(env.CapturedAt)) > maxAge {
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scan(ctx, s.match(""))
	return len(keys), err
}

// -----------------------------------------------------------------------------

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// -----------------------------------------------------------------------------

// match is the SCAN pattern for every namespaced key starting with prefix.
func (s *RedisStore) match(prefix string) string {
	return globEscaper.Replace(s.keyPrefix+prefix) + "*"
}

func (s *RedisStore) scan(ctx context.Context, match string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, match, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %s: %w", match, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}
