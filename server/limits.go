package server

import (
	"errors"
	"net/http"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/ratelimit"
)

// allow counts the request against limiter under key. Headers are written
// whether or not the call is admitted. On rejection the error response is
// written and false returned.
func (a *App) allow(w http.ResponseWriter, r *http.Request, name string, limiter *ratelimit.Limiter, key string) bool {
	if !limiter.Enabled() {
		return true
	}
	res, err := limiter.Allow(r.Context(), key)
	if res.Limit > 0 && limiter.Headers {
		res.SetHeaders(w.Header())
	}
	if err != nil {
		if errors.Is(err, apierr.ErrRateLimitExceeded) {
			a.Metrics.limited(name)
			a.Logger.Warn("rate limit exceeded",
				"limiter", name,
				"key", key,
				"request_id", RequestIDFromContext(r.Context()),
			)
		}
		a.writeError(w, r, err)
		return false
	}
	return true
}

// GlobalRateLimit limits every request from one remote address.
func (a *App) GlobalRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.allow(w, r, "global", a.GlobalLimiter, ratelimit.IPGlobalKey(remoteIP(r))) {
			return
		}
		next.ServeHTTP(w, r)
	})
}
