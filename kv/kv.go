// Package kv is the key-value adapter the token and rate-limit state lives in.
//
// Two implementations are provided: Redis for deployments and Memory for dev
// mode and tests. Both apply a Pipeline as a single atomic batch.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/mikey73/onecareer/apierr"
)

// TTL sentinels, matching the values Redis reports.
const (
	NoExpiry   time.Duration = -1
	MissingKey time.Duration = -2
)

// Store is the set of primitives the authorization core relies on.
type Store interface {
	// HGetAll returns an empty map when the key is absent or expired.
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	// TTL reports the remaining lifetime, NoExpiry or MissingKey.
	TTL(ctx context.Context, key string) (time.Duration, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	// TakeHash reads a hash and deletes it in one atomic step.
	TakeHash(ctx context.Context, key string) (map[string]string, error)
	// Pipeline queues the operations added by fn and applies them atomically.
	Pipeline(ctx context.Context, fn func(Pipe)) error
	Close() error
}

// Pipe collects write operations for Store.Pipeline.
type Pipe interface {
	HSet(key string, fields map[string]string)
	Expire(key string, ttl time.Duration)
	ExpireAt(key string, at time.Time)
	Incr(key string) *Counter
	SAdd(key string, members ...string)
	SRem(key string, members ...string)
	Del(keys ...string)
}

// Counter holds the post-increment value of a pipelined Incr.
// It is populated once the pipeline has executed.
type Counter struct {
	val int64
}

// Val returns the counter value after the pipeline ran.
func (c *Counter) Val() int64 {
	return c.val
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", apierr.ErrStoreUnavailable, err)
}
