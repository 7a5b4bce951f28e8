package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore is the Redis implementation of Store, for deployments where
// the state must outlive the host.
type RedisStore struct {
	client *redis.Client
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore connects to Redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 redis %s 失败: %w", addr, err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

// Update uses WATCH/MULTI and retries when a watched key changes.
func (s *RedisStore) Update(ctx context.Context, keys []string, fn func(tx Tx) error) error {
	txf := func(rtx *redis.Tx) error {
		tx := &redisTx{ctx: ctx, rtx: rtx}
		if err := fn(tx); err != nil {
			return err
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range tx.writes {
				if w.delete {
					pipe.Del(ctx, w.key)
					continue
				}
				pipe.Set(ctx, w.key, w.value, w.ttl)
			}
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisWrite struct {
	key    string
	value  []byte
	ttl    time.Duration
	delete bool
}

type redisTx struct {
	ctx    context.Context
	rtx    *redis.Tx
	writes []redisWrite
}

func (t *redisTx) Get(key string) ([]byte, error) {
	v, err := t.rtx.Get(t.ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (t *redisTx) Set(key string, value []byte, ttl time.Duration) error {
	t.writes = append(t.writes, redisWrite{key: key, value: value, ttl: ttl})
	return nil
}

func (t *redisTx) Delete(key string) error {
	t.writes = append(t.writes, redisWrite{key: key, delete: true})
	return nil
}
