package redis

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/carousel-backend/pkg/config"
	"github.com/angelmondragon/carousel-backend/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Key prefixes under the shared "crsl" namespace.
const (
	keyNamespace      = "crsl"
	idempotencyPrefix = "idempotency"
	rateLimitPrefix   = "rate_limit"
	dedupPrefix       = "dedup"
	urlCachePrefix    = "resolved_url"
	lockPrefix        = "lock"
)

// windowScript increments a counter and starts its window on the first hit,
// so a crash between INCR and PEXPIRE cannot leave an immortal counter.
const windowScript = `
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n`

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

var ErrNotInitialized = errors.New("redis client not initialized")

type cmdable interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Client exposes the handful of Redis primitives the services share: plain
// values, claim-once keys, fixed-window counters and owner-checked deletes.
type Client struct {
	store  cmdable
	closer interface{ Close() error }
}

type Pinger interface {
	Ping(context.Context) error
}

// IdempotencyStore is the subset the idempotency helpers depend on.
type IdempotencyStore interface {
	Get(context.Context, string) (string, error)
	SetNX(context.Context, string, any, time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
	Del(context.Context, ...string) error
}

// New dials Redis and fails fast when the server does not answer PING.
func New(ctx context.Context, cfg config.RedisConfig, logg *logger.Logger) (*Client, error) {
	opts, err := Options(cfg)
	if err != nil {
		return nil, err
	}
	conn := redis.NewClient(opts)
	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{"addr": opts.Addr, "db": opts.DB}), "redis connection established")
	}
	return &Client{store: conn, closer: conn}, nil
}

// Options resolves connection options. A URL wins over the discrete fields;
// pool and timeout settings fill whatever the URL leaves unset.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	opts := &redis.Options{Addr: cfg.Address, Password: cfg.Password, DB: cfg.DB}
	switch {
	case strings.TrimSpace(cfg.URL) != "":
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	case strings.TrimSpace(cfg.Address) == "":
		return nil, errors.New("redis url or address is required")
	}
	opts.PoolSize = cmp.Or(opts.PoolSize, cfg.PoolSize)
	opts.MinIdleConns = cmp.Or(opts.MinIdleConns, cfg.MinIdleConns)
	opts.DialTimeout = cmp.Or(opts.DialTimeout, cfg.DialTimeout)
	opts.ReadTimeout = cmp.Or(opts.ReadTimeout, cfg.ReadTimeout)
	opts.WriteTimeout = cmp.Or(opts.WriteTimeout, cfg.WriteTimeout)
	return opts, nil
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	if c.store == nil {
		return "", ErrNotInitialized
	}
	return c.store.Get(ctx, key).Result()
}

func (c *Client) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c.store == nil {
		return ErrNotInitialized
	}
	return c.store.Set(ctx, key, value, ttl).Err()
}

// SetNX writes key only when absent and reports whether this call won.
func (c *Client) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, ErrNotInitialized
	}
	return c.store.SetNX(ctx, key, value, ttl).Result()
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if c.store == nil {
		return ErrNotInitialized
	}
	return c.store.Del(ctx, keys...).Err()
}

// ReleaseIfOwner deletes key when its value still equals owner. It reports
// whether the key was removed.
func (c *Client) ReleaseIfOwner(ctx context.Context, key, owner string) (bool, error) {
	if c.store == nil {
		return false, ErrNotInitialized
	}
	n, err := c.store.Eval(ctx, releaseScript, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FixedWindowAllow counts one hit against scope and reports whether the count
// is still within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.store == nil {
		return false, 0, ErrNotInitialized
	}
	count, err := c.store.Eval(ctx, windowScript, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, fmt.Errorf("rate window %s: %w", scope, err)
	}
	return count <= limit, count, nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c.store == nil {
		return ErrNotInitialized
	}
	return c.store.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) IdempotencyKey(scope, id string) string {
	return buildKey(idempotencyPrefix, scope, id)
}

func (c *Client) RateLimitKey(scope string) string {
	return buildKey(rateLimitPrefix, scope)
}

// DedupKey guards a submission window, e.g. one queued monitor per profile.
func (c *Client) DedupKey(scope, id string) string {
	return buildKey(dedupPrefix, scope, id)
}

// ResolvedURLKey caches the public URL resolved for a cache asset.
func (c *Client) ResolvedURLKey(assetID string) string {
	return buildKey(urlCachePrefix, assetID)
}

func (c *Client) LockKey(name string) string {
	return buildKey(lockPrefix, name)
}

func buildKey(parts ...string) string {
	var b strings.Builder
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}
