package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// allowScript trims the key's sorted set to the current window, then adds
// the event when there is room. Scores are microseconds.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[3]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// RedisWindow is a sliding-window limiter shared between processes
// through a Redis sorted set per key.
type RedisWindow struct {
	client redis.Cmdable
	prefix string
	max    int
	window time.Duration
	now    func() time.Time
}

// NewRedisWindow creates a limiter admitting max events per window.
func NewRedisWindow(client redis.Cmdable, prefix string, max int, window time.Duration) *RedisWindow {
	return &RedisWindow{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
		now:    time.Now,
	}
}

// Allow implements Limiter.
func (r *RedisWindow) Allow(ctx context.Context, key string) (bool, error) {
	now := r.now().UnixMicro()
	// Events exactly one window old have expired.
	cutoff := now - r.window.Microseconds()
	ttl := r.window.Milliseconds() + 1

	res, err := allowScript.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(cutoff, 10),
		strconv.Itoa(r.max),
		uuid.NewString(),
		strconv.FormatInt(ttl, 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis: %w", err)
	}
	return res == 1, nil
}

var _ Limiter = (*RedisWindow)(nil)
