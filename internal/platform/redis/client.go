// Package redis opens the go-redis client behind the redis change feed.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"stockwatch/internal/platform/config"
)

// Client owns the connection pool. It embeds *redis.Client so notifiers can
// subscribe on it directly.
type Client struct {
	*redis.Client
}

// New parses cfg.URL, applies the pool and timeout overrides that are set,
// and pings once so a bad address fails at boot instead of on first publish.
func New(ctx context.Context, cfg config.Redis) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	applyOverrides(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: client}, nil
}

func applyOverrides(opts *redis.Options, cfg config.Redis) {
	setIf := func(dst *int, v int) {
		if v > 0 {
			*dst = v
		}
	}
	setIf(&opts.PoolSize, cfg.PoolSize)
	setIf(&opts.MinIdleConns, cfg.MinIdleConns)
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}
