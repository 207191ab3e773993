package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter é uma janela fixa por chave guardada no redis (INCR + EXPIRE)
type Limiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
	prefix string
}

// New conecta ao redis e valida a conexão com um PING
func New(ctx context.Context, addr, password string, limit int, window time.Duration) (*Limiter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Limiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:",
	}, nil
}

// Allow conta uma requisição para a chave e informa se ainda cabe na janela
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key

	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= l.limit, nil
}

// Close encerra a conexão com o redis
func (l *Limiter) Close() error {
	return l.client.Close()
}
