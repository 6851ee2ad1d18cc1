package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Cubikon/Smart-Heating-Control/internal/config"
)

// Redis is a Store backed by plain Redis string keys.
type Redis struct {
	rdb    *goredis.Client
	prefix string
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(cfg config.StoreConfig) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.RedisAddr,
		DB:          cfg.RedisDB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{rdb: rdb, prefix: cfg.Prefix}, nil
}

func (r *Redis) Get(ctx context.Context, id string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+id).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, r.wrap("get", id, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, id, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+id, value, 0).Err(); err != nil {
		return r.wrap("set", id, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

func (r *Redis) wrap(op, id string, err error) error {
	if errors.Is(err, goredis.ErrClosed) {
		err = ErrClosed
	}
	return fmt.Errorf("redis %s %s: %w", op, id, err)
}
