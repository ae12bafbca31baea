package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection options. Zero values fall back to defaults.
type Config struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	UseTLS       bool
	ClientName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration // must exceed the longest blocking pub/sub wait when used for RPC replies
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
}

// New returns a connected redis.Client, verified with PING, and its closer.
func New(ctx context.Context, cfg Config) (*redis.Client, func(), error) {
	client := redis.NewClient(options(cfg))
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, func() { _ = client.Close() }, nil
}

func options(cfg Config) *redis.Options {
	opts := &redis.Options{
		Addr:            cfg.Addr,
		Username:        cfg.Username,
		Password:        cfg.Password,
		DB:              cfg.DB,
		ClientName:      cfg.ClientName,
		DialTimeout:     defaultDuration(cfg.DialTimeout, 3*time.Second),
		ReadTimeout:     defaultDuration(cfg.ReadTimeout, 2*time.Second),
		WriteTimeout:    2 * time.Second,
		PoolSize:        defaultInt(cfg.PoolSize, 10),
		MinIdleConns:    defaultInt(cfg.MinIdleConns, 2),
		MaxRetries:      defaultInt(cfg.MaxRetries, 3),
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

func defaultDuration(v, d time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return d
}

func defaultInt(v, d int) int {
	if v > 0 {
		return v
	}
	return d
}
