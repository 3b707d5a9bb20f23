package cursor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "slotwatch:cursor:"

// RedisStore keeps cursors as plain string values.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis parses a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	return NewRedisStore(ctx, redis.NewClient(opts))
}

// NewRedisStore pings client and wraps it.
func NewRedisStore(ctx context.Context, client *redis.Client) (*RedisStore, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (uint64, bool, error) {
	v, err := s.client.Get(ctx, redisKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load cursor %q: %w", key, err)
	}
	slot, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cursor %q: %w", key, err)
	}
	return slot, true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, slot uint64) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, strconv.FormatUint(slot, 10), 0).Err(); err != nil {
		return fmt.Errorf("save cursor %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("delete cursor %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), redisKeyPrefix)
		slot, ok, err := s.Load(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, Entry{Key: key, Slot: slot})
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *RedisStore) Close() error   { return s.client.Close() }
func (s *RedisStore) Backend() string { return "redis" }
