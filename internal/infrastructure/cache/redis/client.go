package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultConnectTimeout bounds the startup ping
const defaultConnectTimeout = 5 * time.Second

// Client owns the connection pool shared by the caches and the rate limiter
type Client struct {
	rdb  *redis.Client
	addr string
}

// Config holds Redis configuration.
// Read and write timeouts should stay well under the analysis SLA.
type Config struct {
	Host           string
	Port           int
	Password       string
	DB             int
	PoolSize       int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
}

func (c Config) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// NewClient opens the pool and verifies the server answers within ConnectTimeout
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.ConnectTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		// Pool waits count against the caller's deadline instead of a fixed timeout
		ContextTimeoutEnabled: true,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.addr(), err)
	}

	return &Client{rdb: rdb, addr: cfg.addr()}, nil
}

// Wrap uses an existing go-redis client
func Wrap(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, addr: rdb.Options().Addr}
}

// Redis exposes the pool for components that take a go-redis client, such as redis_rate
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Addr is the server address
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping implements the readiness check
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis %s: %w", c.addr, err)
	}
	return nil
}
