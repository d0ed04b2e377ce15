// Package ratelimit throttles anonymous writes with a Redis fixed window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "blogcore:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter counts requests per key in fixed windows shared by every instance
// pointed at the same Redis.
type Limiter struct {
	limit  int
	window time.Duration
	prefix string
	client *redis.Client
	now    func() time.Time
	logger *slog.Logger
}

// Options configures New.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	Limit    int
	Window   time.Duration
}

func New(opts Options, logger *slog.Logger) (*Limiter, error) {
	if opts.Limit <= 0 || opts.Window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil, errors.New("ratelimit: redis address is required")
	}
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Limiter{
		limit:  opts.Limit,
		window: opts.Window,
		prefix: prefix,
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: opts.Password,
			DB:       opts.DB,
		}),
		now:    time.Now,
		logger: logger,
	}, nil
}

// Ping checks that Redis is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ratelimit: pinging redis: %w", err)
	}
	return nil
}

// Allow reports whether key is still within quota. It fails closed when
// Redis cannot be reached.
func (l *Limiter) Allow(ctx context.Context, key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		l.logger.Error("rate limit check failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return false
	}
	return count <= int64(l.limit)
}

func (l *Limiter) Close() error {
	return l.client.Close()
}
