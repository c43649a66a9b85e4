package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/directory"
	"github.com/mikey73/onecareer/kv"
	"github.com/mikey73/onecareer/oauth"
	"github.com/mikey73/onecareer/ratelimit"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config   Config
	Logger   *slog.Logger
	Store    kv.Store
	Repo     directory.Repository
	Clients  *directory.Registry
	Accounts *directory.Service
	Provider *oauth.Provider
	Metrics  *Metrics

	GlobalLimiter  *ratelimit.Limiter
	LoginLimiter   *ratelimit.Limiter
	AccountLimiter *ratelimit.Limiter
}

// NewApp wires together the application state from configuration.
func NewApp(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	clients, err := directory.NewRegistry(cfg.OAuth2Clients)
	if err != nil {
		return nil, fmt.Errorf("init clients: %w", err)
	}

	var store kv.Store
	if cfg.Storage.RedisURL != "" {
		rs, err := kv.NewRedis(ctx, cfg.Storage.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		store = rs
	} else {
		logger.Warn("using in-memory token store; state is lost on restart")
		store = kv.NewMemory()
	}

	var repo directory.Repository
	if cfg.Storage.DatabaseURL != "" {
		pg, err := directory.NewPostgresRepository(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		repo = pg
	} else {
		logger.Warn("using in-memory account repository; accounts are lost on restart")
		repo = directory.NewMemoryRepository()
	}

	base := strings.TrimSuffix(cfg.Server.PublicURL, "/")
	mailer := directory.LogMailer{
		Logger:      logger,
		ValidateURL: cfg.Accounts.ValidateURL,
		ResetURL:    cfg.Accounts.ResetURL,
	}
	if mailer.ValidateURL == "" {
		mailer.ValidateURL = base + "/account/validate"
	}
	if mailer.ResetURL == "" {
		mailer.ResetURL = base + "/account/reset"
	}
	accounts := directory.NewService(
		repo,
		mailer,
		directory.NewVerifier(cfg.Accounts.VerificationSecret, cfg.Accounts.VerificationTTL),
		store,
	)
	if err := accounts.Seed(ctx, cfg.Accounts.Seed); err != nil {
		_ = store.Close()
		repo.Close()
		return nil, fmt.Errorf("seed accounts: %w", err)
	}

	provider := oauth.NewProvider(oauth.NewTokenStore(store), clients, accounts, oauth.Config{
		CodeTTL:           cfg.OAuth.CodeTTL,
		AccessTTL:         cfg.OAuth.AccessTokenTTL,
		AcceptAnyRedirect: cfg.OAuth.AcceptAnyRedirect,
	})

	if len(cfg.Server.CORS.ClientOriginURLs) == 0 {
		cfg.Server.CORS.ClientOriginURLs = cfg.InferCORSOrigins()
	}

	limiter := func(l LimitConfig) *ratelimit.Limiter {
		return &ratelimit.Limiter{
			Store:   store,
			Limit:   l.Limit,
			Period:  l.Period,
			Headers: cfg.RateLimit.Headers,
		}
	}

	return &App{
		Config:         cfg,
		Logger:         logger,
		Store:          store,
		Repo:           repo,
		Clients:        clients,
		Accounts:       accounts,
		Provider:       provider,
		Metrics:        NewMetrics(),
		GlobalLimiter:  limiter(cfg.RateLimit.Global),
		LoginLimiter:   limiter(cfg.RateLimit.Login),
		AccountLimiter: limiter(cfg.RateLimit.Account),
	}, nil
}

// Close releases the backing stores.
func (a *App) Close() error {
	a.Repo.Close()
	return a.Store.Close()
}

func (a *App) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuth exchanges account credentials for an authorization code.
func (a *App) handleAuth(w http.ResponseWriter, r *http.Request) {
	if !a.allow(w, r, "login", a.LoginLimiter, ratelimit.IPOperationKey("auth", remoteIP(r))) {
		return
	}
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	email, password := r.PostForm.Get("email"), r.PostForm.Get("password")
	if email == "" || password == "" {
		a.writeError(w, r, apierr.ErrSchemaInvalid.WithMessage("email and password are required"))
		return
	}

	grant, err := a.Provider.Authenticate(r.Context(), oauth.LoginRequest{
		ClientID: client.ID,
		Email:    email,
		Password: password,
		Scope:    r.PostForm.Get("scope"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), grant.AccountID)
	a.Metrics.issued("code")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"code":       grant.Code,
		"expires_in": int64(grant.ExpiresIn / time.Second),
	})
}

// handleAuthorize is the redirect variant of code issuance. The caller's
// bearer token, if valid for the same client, identifies the account.
func (a *App) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := oauth.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}
	setClientID(r.Context(), req.ClientID)

	if token := extractBearerToken(r.Header.Get("Authorization")); token != "" {
		info, err := a.Provider.Validate(r.Context(), token)
		switch {
		case errors.Is(err, apierr.ErrStoreUnavailable):
			a.writeError(w, r, err)
			return
		case err == nil && info.ClientID == req.ClientID:
			req.AccountID = info.AccountID
			req.LoggedIn = true
			setAccountID(r.Context(), info.AccountID)
		}
	}

	res := a.Provider.Authorize(r.Context(), req)
	if !res.Redirect {
		a.Logger.Warn("authorize rejected", "client_id", req.ClientID, "error", res.Error)
		a.writeError(w, r, res.Err)
		return
	}
	if !res.OK() && !errors.Is(res.Err, apierr.ErrAuth) {
		a.Logger.Error("authorize failed", "client_id", req.ClientID, "error", res.Err)
	}
	if res.OK() {
		a.Metrics.issued("code")
	}

	location, err := res.Location()
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusFound)
}

// handleToken serves the authorization_code and refresh_token grants.
func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.writeError(w, r, apierr.ErrSchemaInvalid.WithMessage("invalid form"))
		return
	}
	clientID, clientSecret := clientCredentials(r)
	setClientID(r.Context(), clientID)

	grantType := r.PostForm.Get("grant_type")
	bundle, err := a.Provider.Exchange(r.Context(), oauth.TokenRequest{
		GrantType:    grantType,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostForm.Get("code"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if grantType == "" {
		grantType = oauth.GrantAuthorizationCode
	}
	a.Metrics.issued(grantType)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, bundle)
}

// handleRefresh replaces the caller's token pair.
func (a *App) handleRefresh(w http.ResponseWriter, r *http.Request) {
	client, ok := a.requireClient(w, r)
	if !ok {
		return
	}
	bundle, err := a.Provider.Refresh(r.Context(), oauth.RefreshRequest{
		ClientID:     client.ID,
		AccessToken:  r.PostForm.Get("access_token"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Scope:        r.PostForm.Get("scope"),
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	setAccountID(r.Context(), bundle.AccountID)
	a.Metrics.issued("refresh")

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, bundle)
}

// handleInvalidate revokes every token of the bearer token's pair.
func (a *App) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	info, ok := a.requireBearer(w, r)
	if !ok {
		return
	}
	if !a.allow(w, r, "account", a.AccountLimiter, ratelimit.AccountGlobalKey(info.AccountID)) {
		return
	}
	if err := a.Provider.Revoke(r.Context(), info.ClientID, info.AccountID); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTokenInfo reports what a bearer access token grants.
func (a *App) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	info, ok := a.requireBearer(w, r)
	if !ok {
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, info)
}

// requireClient parses the form and authenticates the API client with
// HTTP Basic credentials or client_id/client_secret form fields.
func (a *App) requireClient(w http.ResponseWriter, r *http.Request) (*oauth.Client, bool) {
	if err := r.ParseForm(); err != nil {
		a.writeError(w, r, apierr.ErrSchemaInvalid.WithMessage("invalid form"))
		return nil, false
	}
	clientID, clientSecret := clientCredentials(r)
	setClientID(r.Context(), clientID)
	client, err := a.Clients.Authenticate(clientID, clientSecret)
	if err != nil {
		a.writeError(w, r, err)
		return nil, false
	}
	return client, true
}

func (a *App) requireBearer(w http.ResponseWriter, r *http.Request) (oauth.TokenInfo, bool) {
	info, err := a.Provider.Validate(r.Context(), extractBearerToken(r.Header.Get("Authorization")))
	if err != nil {
		a.writeError(w, r, err)
		return oauth.TokenInfo{}, false
	}
	setClientID(r.Context(), info.ClientID)
	setAccountID(r.Context(), info.AccountID)
	return info, true
}

// clientCredentials reads Basic credentials, which are form-encoded before
// base64 as OAuth2 requires, or falls back to the form fields.
func clientCredentials(r *http.Request) (string, string) {
	clientID, clientSecret, ok := r.BasicAuth()
	if !ok {
		return r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if v, err := url.QueryUnescape(clientID); err == nil {
		clientID = v
	}
	if v, err := url.QueryUnescape(clientSecret); err == nil {
		clientSecret = v
	}
	return clientID, clientSecret
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
