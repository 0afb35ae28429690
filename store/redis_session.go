package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"

	"klaus/types"
)

const sessionKeyPrefix = "klaus:session:"

// RedisSessionStore keeps conversations in Redis so they survive restarts
// and are shared between replicas.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisSessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	log.Printf("[SESSION] connected to redis at %s", addr)
	return NewRedisSessionStoreWithClient(rdb, ttl), nil
}

func NewRedisSessionStoreWithClient(client *redis.Client, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{client: client, ttl: ttl}
}

func (r *RedisSessionStore) Get(ctx context.Context, key string) ([]types.ChatMessage, error) {
	data, err := r.client.Get(ctx, sessionKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var history []types.ChatMessage
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode session %q: %w", key, err)
	}
	return history, nil
}

func (r *RedisSessionStore) Put(ctx context.Context, key string, history []types.ChatMessage) error {
	data, err := json.Marshal(types.TrimHistory(history, types.HistoryLimit))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKeyPrefix+key, data, r.ttl).Err()
}

func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}
