package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisWindow(t *testing.T, max int, window time.Duration) *RedisWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisWindow(client, "test:rl:", max, window)
}

func TestLimiters(t *testing.T) {
	makers := map[string]func(t *testing.T, c *clock) Limiter{
		"memory": func(t *testing.T, c *clock) Limiter {
			w := NewWindow(3, time.Minute)
			w.now = c.now
			return w
		},
		"redis": func(t *testing.T, c *clock) Limiter {
			w := newRedisWindow(t, 3, time.Minute)
			w.now = c.now
			return w
		},
	}

	for name, mk := range makers {
		t.Run(name+"/admits up to max", func(t *testing.T) {
			c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
			l := mk(t, c)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				ok, err := l.Allow(ctx, "k")
				require.NoError(t, err)
				assert.True(t, ok, "event %d", i+1)
				c.advance(time.Second)
			}
			ok, err := l.Allow(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok, "4th event within window")

			ok, err = l.Allow(ctx, "other")
			require.NoError(t, err)
			assert.True(t, ok, "keys are independent")
		})

		t.Run(name+"/window slides", func(t *testing.T) {
			c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
			l := mk(t, c)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, _ = l.Allow(ctx, "k")
			}
			c.advance(59 * time.Second)
			ok, _ := l.Allow(ctx, "k")
			assert.False(t, ok, "still inside window")

			c.advance(time.Second)
			ok, _ = l.Allow(ctx, "k")
			assert.True(t, ok, "events exactly one window old expire")
		})

		t.Run(name+"/rejections do not count", func(t *testing.T) {
			c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
			l := mk(t, c)
			ctx := context.Background()
			for i := 0; i < 3; i++ {
				_, _ = l.Allow(ctx, "k")
			}
			c.advance(30 * time.Second)
			for i := 0; i < 5; i++ {
				ok, _ := l.Allow(ctx, "k")
				assert.False(t, ok)
			}
			c.advance(30 * time.Second)
			ok, _ := l.Allow(ctx, "k")
			assert.True(t, ok)
		})
	}
}

func TestRedisWindowError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	w := NewRedisWindow(client, "x:", 1, time.Minute)
	mr.Close()

	_, err := w.Allow(context.Background(), "k")
	assert.Error(t, err)
}
