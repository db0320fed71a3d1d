/*
Package counter provides the shared counter that workers update with the "increment" operation.

Local is a counter within one process. Redis keeps the value in a Redis key and updates it with
INCRBY, so that worker processes on different machines share one atomic counter.
*/
package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Default Redis key of the shared counter.
const DEFAULT_KEY = "clusterdispatch:counter"

// A Counter is an integer that can be atomically incremented by concurrent callers.
type Counter interface {
	// Add adds delta and returns the value after the addition.
	Add(ctx context.Context, delta int64) (int64, error)
	// Get returns the current value.
	Get(ctx context.Context) (int64, error)
}

// Local is a Counter shared by the goroutines of one process. The zero value is ready to use.
type Local struct {
	value atomic.Int64
}

func NewLocal() *Local {
	return &Local{}
}

func (c *Local) Add(_ context.Context, delta int64) (int64, error) {
	return c.value.Add(delta), nil
}

func (c *Local) Get(_ context.Context) (int64, error) {
	return c.value.Load(), nil
}

// Redis is a Counter stored in one Redis key. The caller owns the client.
type Redis struct {
	client redis.Cmdable
	key    string
}

func NewRedis(client redis.Cmdable, key string) *Redis {
	if key == "" {
		key = DEFAULT_KEY
	}
	return &Redis{client: client, key: key}
}

func (c *Redis) Key() string {
	return c.key
}

func (c *Redis) Add(ctx context.Context, delta int64) (int64, error) {
	v, err := c.client.IncrBy(ctx, c.key, delta).Result()

	if err != nil {
		return 0, fmt.Errorf("counter: incrby %s: %w", c.key, err)
	}
	return v, nil
}

// Get returns 0 if the key does not exist yet.
func (c *Redis) Get(ctx context.Context) (int64, error) {
	s, err := c.client.Get(ctx, c.key).Result()

	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("counter: get %s: %w", c.key, err)
	}

	v, err := strconv.ParseInt(s, 10, 64)

	if err != nil {
		return 0, fmt.Errorf("counter: %s holds %q: %w", c.key, s, err)
	}
	return v, nil
}

// Reset sets the counter to 0.
func (c *Redis) Reset(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}

var _ Counter = (*Local)(nil)
var _ Counter = (*Redis)(nil)
