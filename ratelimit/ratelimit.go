// Package ratelimit implements a fixed-window request counter on top of kv.
//
// Each call increments the counter for a key and moves the window's expiry
// to now+period in the same atomic batch. Because the window is fixed, a
// caller can burst up to twice the limit across a boundary.
package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/kv"
)

// Header names written when headers are enabled.
const (
	HeaderReset     = "X-RateLimit-Reset"
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
)

// Limiter guards an operation. A zero Limit disables it.
type Limiter struct {
	Store   kv.Store
	Limit   int64
	Period  time.Duration
	Headers bool
	Now     func() time.Time
}

// Result describes the counter state after a call.
type Result struct {
	Limit   int64
	Current int64
	// Remaining is Limit-Current and goes negative once the limit is exceeded.
	Remaining int64
	Reset     time.Time
}

// Enabled reports whether the limiter counts calls.
func (l *Limiter) Enabled() bool {
	return l != nil && l.Limit > 0
}

// Allow counts one call against key. It returns apierr.ErrRateLimitExceeded
// along with the result when the post-increment count exceeds the limit.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if !l.Enabled() {
		return Result{}, nil
	}

	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	period := l.Period
	if period < time.Second {
		period = time.Second
	}
	reset := time.Unix(now().Unix(), 0).Add(period)

	var counter *kv.Counter
	err := l.Store.Pipeline(ctx, func(p kv.Pipe) {
		counter = p.Incr(key)
		p.ExpireAt(key, reset)
	})
	if err != nil {
		return Result{}, err
	}

	res := Result{
		Limit:     l.Limit,
		Current:   counter.Val(),
		Remaining: l.Limit - counter.Val(),
		Reset:     reset,
	}
	if res.Current > l.Limit {
		return res, apierr.ErrRateLimitExceeded
	}
	return res, nil
}

// SetHeaders writes the rate-limit headers for r.
func (r Result) SetHeaders(h http.Header) {
	h.Set(HeaderReset, strconv.FormatInt(r.Reset.Unix(), 10))
	h.Set(HeaderLimit, strconv.FormatInt(r.Limit, 10))
	h.Set(HeaderRemaining, strconv.FormatInt(r.Remaining, 10))
}

// IPGlobalKey limits every call from one remote address.
func IPGlobalKey(ip string) string {
	return "rl_ip_g:" + ip
}

// IPOperationKey limits one operation per remote address.
func IPOperationKey(operation, ip string) string {
	return "rl_ip_m:" + operation + ":" + ip
}

// AccountGlobalKey limits every call made on behalf of one account.
func AccountGlobalKey(accountID int64) string {
	return "rl_acc_g:" + strconv.FormatInt(accountID, 10)
}
