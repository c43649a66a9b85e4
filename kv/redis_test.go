package kv

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/mikey73/onecareer/apierr"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb), mr
}

func TestRedisPipelineAndTTL(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)

	require.NoError(t, r.Pipeline(ctx, func(p Pipe) {
		p.HSet("oauth2:access_token:t1", map[string]string{"client_id": "C1", "account_id": "42"})
		p.Expire("oauth2:access_token:t1", time.Hour)
		p.SAdd("oauth2:client_user:C1:42", "oauth2:access_token:t1")
	}))

	got, err := r.HGetAll(ctx, "oauth2:access_token:t1")
	require.NoError(t, err)
	require.Equal(t, "42", got["account_id"])

	ttl, err := r.TTL(ctx, "oauth2:access_token:t1")
	require.NoError(t, err)
	require.Equal(t, time.Hour, ttl)

	ok, err := r.SIsMember(ctx, "oauth2:client_user:C1:42", "oauth2:access_token:t1")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(time.Hour)
	got, err = r.HGetAll(ctx, "oauth2:access_token:t1")
	require.NoError(t, err)
	require.Empty(t, got)

	ttl, err = r.TTL(ctx, "oauth2:access_token:t1")
	require.NoError(t, err)
	require.Equal(t, MissingKey, ttl)
}

func TestRedisTakeHash(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	require.NoError(t, r.Pipeline(ctx, func(p Pipe) {
		p.HSet("code", map[string]string{"scope": ""})
	}))

	first, err := r.TakeHash(ctx, "code")
	require.NoError(t, err)
	require.Contains(t, first, "scope")

	second, err := r.TakeHash(ctx, "code")
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestRedisIncrAndSets(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRedis(t)

	var c *Counter
	for i := 0; i < 2; i++ {
		require.NoError(t, r.Pipeline(ctx, func(p Pipe) {
			c = p.Incr("rl_ip_g:127.0.0.1")
			p.ExpireAt("rl_ip_g:127.0.0.1", time.Now().Add(time.Minute))
		}))
	}
	require.EqualValues(t, 2, c.Val())

	require.NoError(t, r.Pipeline(ctx, func(p Pipe) {
		p.SAdd("s", "a", "b", "c")
		p.SRem("s", "b")
	}))
	members, err := r.SMembers(ctx, "s")
	require.NoError(t, err)
	sort.Strings(members)
	require.Equal(t, []string{"a", "c"}, members)

	require.NoError(t, r.Pipeline(ctx, func(p Pipe) {
		p.Del("s")
	}))
	members, err = r.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRedisUnavailable(t *testing.T) {
	ctx := context.Background()
	r, mr := newTestRedis(t)
	mr.Close()

	_, err := r.HGetAll(ctx, "any")
	require.ErrorIs(t, err, apierr.ErrStoreUnavailable)

	err = r.Pipeline(ctx, func(p Pipe) {
		p.Incr("any")
	})
	require.ErrorIs(t, err, apierr.ErrStoreUnavailable)
}

func TestNewRedisBadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url")
	require.Error(t, err)
}
