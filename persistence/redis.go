package persistence

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	defaultRedisKeyPrefix = "walkingbuddy:"
	redisTimeout          = 5 * time.Second
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(addr, keyPrefix string) (*RedisStore, error) {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisStore{client: client, prefix: keyPrefix}, nil
}

func (p *RedisStore) Get(slot string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	v, err := p.client.Get(ctx, p.prefix+slot).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (p *RedisStore) Set(slot, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return p.client.Set(ctx, p.prefix+slot, value, 0).Err()
}

func (p *RedisStore) Delete(slot string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return p.client.Del(ctx, p.prefix+slot).Err()
}

func (p *RedisStore) Close() error {
	return p.client.Close()
}
