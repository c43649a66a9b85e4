package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/kv"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newTestLimiter(limit int64) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	return &Limiter{
		Store:   kv.NewMemoryWithClock(clock.Now),
		Limit:   limit,
		Period:  time.Second,
		Headers: true,
		Now:     clock.Now,
	}, clock
}

func TestFixedWindow(t *testing.T) {
	ctx := context.Background()
	l, clock := newTestLimiter(3)
	key := IPGlobalKey("10.0.0.1")

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, key)
		require.NoError(t, err, "call %d", i)
		require.EqualValues(t, i, res.Current)
	}

	res, err := l.Allow(ctx, key)
	require.ErrorIs(t, err, apierr.ErrRateLimitExceeded)
	require.EqualValues(t, 4, res.Current)
	require.EqualValues(t, -1, res.Remaining)

	clock.now = clock.now.Add(time.Second)
	res, err = l.Allow(ctx, key)
	require.NoError(t, err)
	require.EqualValues(t, 1, res.Current)
}

func TestExceededCallsStillCount(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(1)
	key := IPOperationKey("auth", "10.0.0.1")

	_, err := l.Allow(ctx, key)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.Allow(ctx, key)
		require.ErrorIs(t, err, apierr.ErrRateLimitExceeded)
	}
	res, _ := l.Allow(ctx, key)
	require.EqualValues(t, 5, res.Current)
	require.EqualValues(t, -4, res.Remaining)
}

func TestKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLimiter(1)

	_, err := l.Allow(ctx, IPGlobalKey("10.0.0.1"))
	require.NoError(t, err)
	_, err = l.Allow(ctx, IPGlobalKey("10.0.0.2"))
	require.NoError(t, err)
	_, err = l.Allow(ctx, AccountGlobalKey(42))
	require.NoError(t, err)
}

func TestDisabledLimiter(t *testing.T) {
	l, _ := newTestLimiter(0)
	for i := 0; i < 10; i++ {
		res, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.Zero(t, res.Current)
	}

	var nilLimiter *Limiter
	require.False(t, nilLimiter.Enabled())
}

func TestSetHeaders(t *testing.T) {
	res := Result{Limit: 3, Current: 5, Remaining: -2, Reset: time.Unix(1_700_000_001, 0)}
	h := http.Header{}
	res.SetHeaders(h)

	require.Equal(t, "1700000001", h.Get(HeaderReset))
	require.Equal(t, "3", h.Get(HeaderLimit))
	require.Equal(t, "-2", h.Get(HeaderRemaining))
}

func TestKeyFormats(t *testing.T) {
	require.Equal(t, "rl_ip_g:1.2.3.4", IPGlobalKey("1.2.3.4"))
	require.Equal(t, "rl_ip_m:auth:1.2.3.4", IPOperationKey("auth", "1.2.3.4"))
	require.Equal(t, "rl_acc_g:42", AccountGlobalKey(42))
}
