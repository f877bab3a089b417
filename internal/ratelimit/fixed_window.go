package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter bump and expiry set must be one atomic step so a window counter is
// never left without a TTL.
var incrWithExpiry = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

const defaultPrefix = "docchat:ratelimit"

// FixedWindowLimiter counts requests per key in fixed time windows backed by
// a shared Redis counter, so the quota holds across server replicas.
type FixedWindowLimiter struct {
	client *redis.Client
	prefix string
	limit  int64
	window time.Duration
	now    func() time.Time
}

// NewRedisFixedWindowLimiter connects a limiter allowing limit requests per
// key per window.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("ratelimit: limit and window must be positive")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("ratelimit: redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    password,
			DialTimeout: 2 * time.Second,
			ReadTimeout: 2 * time.Second,
		}),
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		now:    time.Now,
	}, nil
}

// Allow reports whether key still has quota in the current window. Redis
// errors count against the caller: the limiter fails closed.
func (l *FixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := l.now().UTC().UnixMilli() / windowMs
	counter := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := incrWithExpiry.Run(ctx, l.client, []string{counter}, windowMs).Int64()
	if err != nil {
		return false
	}
	return n <= l.limit
}

// Close releases the Redis connection pool.
func (l *FixedWindowLimiter) Close() error {
	return l.client.Close()
}
