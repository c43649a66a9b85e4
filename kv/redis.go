package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on top of go-redis.
type Redis struct {
	rdb *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedis connects using a URL such as redis://:pass@host:6379/0 and pings
// the server so misconfiguration fails at startup.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, unavailable(err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return m, nil
}

func (r *Redis) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return d, nil
}

func (r *Redis) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := r.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

func (r *Redis) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.rdb.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (r *Redis) TakeHash(ctx context.Context, key string) (map[string]string, error) {
	var get *redis.MapStringStringCmd
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		get = p.HGetAll(ctx, key)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return get.Val(), nil
}

func (r *Redis) Pipeline(ctx context.Context, fn func(Pipe)) error {
	p := &redisPipe{ctx: ctx, tx: r.rdb.TxPipeline()}
	fn(p)
	if _, err := p.tx.Exec(ctx); err != nil {
		return unavailable(err)
	}
	for _, c := range p.counters {
		c.counter.val = c.cmd.Val()
	}
	return nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}

type pendingCounter struct {
	counter *Counter
	cmd     *redis.IntCmd
}

type redisPipe struct {
	ctx      context.Context
	tx       redis.Pipeliner
	counters []pendingCounter
}

func (p *redisPipe) HSet(key string, fields map[string]string) {
	p.tx.HSet(p.ctx, key, fields)
}

func (p *redisPipe) Expire(key string, ttl time.Duration) {
	p.tx.Expire(p.ctx, key, ttl)
}

func (p *redisPipe) ExpireAt(key string, at time.Time) {
	p.tx.ExpireAt(p.ctx, key, at)
}

func (p *redisPipe) Incr(key string) *Counter {
	c := &Counter{}
	p.counters = append(p.counters, pendingCounter{counter: c, cmd: p.tx.Incr(p.ctx, key)})
	return c
}

func (p *redisPipe) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.tx.SAdd(p.ctx, key, toAny(members)...)
}

func (p *redisPipe) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	p.tx.SRem(p.ctx, key, toAny(members)...)
}

func (p *redisPipe) Del(keys ...string) {
	if len(keys) == 0 {
		return
	}
	p.tx.Del(p.ctx, keys...)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
