package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes constructs the HTTP router with the OAuth2 and account endpoints.
func (a *App) Routes() http.Handler {
	r := chi.NewRouter()

	if a.Config.Server.TrustProxyHeaders {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(a.Logger))
	r.Use(RecoveryMiddleware(a.Logger, a.Config.Server.DevMode))
	r.Use(a.Metrics.Middleware)
	r.Use(CORSMiddleware(a.Config.Server.CORS))
	if !a.Config.Server.DevMode {
		r.Use(SecurityHeadersMiddleware(a.Config.Server.TLS.HSTSMaxAge))
	}

	r.Get("/ping", a.handlePing)
	r.Method(http.MethodGet, "/metrics", a.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.GlobalRateLimit)

		r.Route("/oauth2", func(r chi.Router) {
			r.Post("/auth", a.handleAuth)
			r.Get("/authorize", a.handleAuthorize)
			r.Post("/token", a.handleToken)
			r.Post("/refresh", a.handleRefresh)
			r.Post("/invalidate", a.handleInvalidate)
			r.Get("/tokeninfo", a.handleTokenInfo)
		})

		r.Route("/account", func(r chi.Router) {
			r.Post("/register", a.handleRegister)
			r.Post("/register/resend", a.handleResend)
			r.Post("/validate", a.handleValidate)
			r.Post("/login", a.handleLogin)
			r.Post("/recover", a.handleRecover)
			r.Post("/reset", a.handleReset)
			r.Post("/reset/hash", a.handleResetHash)
		})
	})

	return r
}
