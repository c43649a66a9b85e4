// Package oauth holds the token store and the authorization provider that
// drives the code, token, refresh and revoke flow for API clients.
package oauth

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mikey73/onecareer/apierr"
)

// Grant types accepted by Exchange.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantRefreshToken      = "refresh_token"
)

// Account is the view of an account the provider needs.
type Account interface {
	AccountID() int64
	CheckPassword(plaintext string) bool
	IsActive() bool
	IsVerified() bool
}

// AccountDirectory looks accounts up by email within a client.
type AccountDirectory interface {
	FindAccount(ctx context.Context, email, clientID string) (Account, bool, error)
}

// ClientDirectory looks registered clients up.
type ClientDirectory interface {
	FindClient(ctx context.Context, clientID string) (*Client, bool, error)
}

// Config tunes lifetimes and redirect policy.
type Config struct {
	CodeTTL   time.Duration
	AccessTTL time.Duration
	// AcceptAnyRedirect skips redirect URI registration checks.
	AcceptAnyRedirect bool
}

// Provider orchestrates the authorization flow. It never logs; failures are
// returned as apierr kinds for the caller to render.
type Provider struct {
	tokens   *TokenStore
	clients  ClientDirectory
	accounts AccountDirectory
	cfg      Config
	newToken func() (string, error)

	// checkMissing spends a password comparison on unknown emails.
	checkMissing func(password string)
}

// missingAccountHash is compared against when no account matches, so that
// unknown emails cost as much as wrong passwords.
var missingAccountHash = sync.OnceValue(func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("no account matches this email"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
})

func compareMissing(password string) {
	_ = bcrypt.CompareHashAndPassword(missingAccountHash(), []byte(password))
}

// NewProvider wires a provider.
func NewProvider(tokens *TokenStore, clients ClientDirectory, accounts AccountDirectory, cfg Config) *Provider {
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = DefaultCodeTTL
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTTL
	}
	return &Provider{
		tokens:       tokens,
		clients:      clients,
		accounts:     accounts,
		cfg:          cfg,
		newToken:     generateToken,
		checkMissing: compareMissing,
	}
}

// Tokens exposes the underlying token store.
func (p *Provider) Tokens() *TokenStore {
	return p.tokens
}

// LoginRequest carries credentials for Authenticate.
type LoginRequest struct {
	ClientID string
	Email    string
	Password string
	Scope    string
}

// Grant is an issued authorization code.
type Grant struct {
	Code      string
	ClientID  string
	AccountID int64
	Scope     string
	ExpiresIn time.Duration
}

// Authenticate checks the account's credentials, discards every token
// previously issued to the (client, account) pair and issues a new code.
// Unknown emails and wrong passwords both fail as EmailOrPasswordNotFound.
func (p *Provider) Authenticate(ctx context.Context, req LoginRequest) (Grant, error) {
	acc, err := p.checkCredentials(ctx, req)
	if err != nil {
		return Grant{}, err
	}

	client, err := p.activeClient(ctx, req.ClientID)
	if err != nil {
		return Grant{}, err
	}
	if client == nil {
		return Grant{}, apierr.ErrAuth.WithMessage("unauthorized_client")
	}
	if !client.ValidateScopes(req.Scope) {
		return Grant{}, apierr.ErrAuth.WithMessage("invalid_scope")
	}

	if err := p.tokens.RevokeAll(ctx, client.ID, acc.AccountID()); err != nil {
		return Grant{}, err
	}
	return p.issueCode(ctx, client.ID, acc.AccountID(), req.Scope)
}

// Login checks the account's credentials and discards every token issued to
// the (client, account) pair without issuing a code.
func (p *Provider) Login(ctx context.Context, req LoginRequest) (Account, error) {
	acc, err := p.checkCredentials(ctx, req)
	if err != nil {
		return nil, err
	}
	client, err := p.activeClient(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, apierr.ErrAuth.WithMessage("unauthorized_client")
	}
	if err := p.tokens.RevokeAll(ctx, client.ID, acc.AccountID()); err != nil {
		return nil, err
	}
	return acc, nil
}

func (p *Provider) checkCredentials(ctx context.Context, req LoginRequest) (Account, error) {
	acc, ok, err := p.accounts.FindAccount(ctx, req.Email, req.ClientID)
	if err != nil {
		return nil, err
	}
	if !ok {
		p.checkMissing(req.Password)
		return nil, apierr.ErrEmailOrPasswordNotFound
	}
	if !acc.CheckPassword(req.Password) {
		return nil, apierr.ErrEmailOrPasswordNotFound
	}
	if !acc.IsActive() {
		return nil, apierr.ErrAccountInactive
	}
	if !acc.IsVerified() {
		return nil, apierr.ErrAccountNotVerified
	}
	return acc, nil
}

func (p *Provider) issueCode(ctx context.Context, clientID string, accountID int64, scope string) (Grant, error) {
	code, err := p.newToken()
	if err != nil {
		return Grant{}, err
	}
	if err := p.tokens.PutAuthorizationCode(ctx, clientID, code, accountID, scope, p.cfg.CodeTTL); err != nil {
		return Grant{}, err
	}
	return Grant{
		Code:      code,
		ClientID:  clientID,
		AccountID: accountID,
		Scope:     scope,
		ExpiresIn: p.cfg.CodeTTL,
	}, nil
}

// activeClient returns nil when the client is unknown or inactive.
func (p *Provider) activeClient(ctx context.Context, clientID string) (*Client, error) {
	if clientID == "" {
		return nil, nil
	}
	client, ok, err := p.clients.FindClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !ok || !client.Active {
		return nil, nil
	}
	return client, nil
}

// AuthorizeRequest is the redirect-driven variant of code issuance. The
// account is identified by the caller; LoggedIn is false for anonymous users.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
	AccountID    int64
	LoggedIn     bool
}

// AuthorizeResult is the outcome of Authorize. When Redirect is false the
// redirect target could not be trusted and the error must be shown directly.
type AuthorizeResult struct {
	Redirect         bool
	RedirectURI      string
	State            string
	Code             string
	ExpiresIn        time.Duration
	Error            string
	ErrorDescription string
	Err              error
}

// OK reports whether a code was issued.
func (r AuthorizeResult) OK() bool {
	return r.Error == ""
}

// Location encodes the result onto the redirect URI as query parameters.
func (r AuthorizeResult) Location() (string, error) {
	if !r.Redirect {
		return "", errors.New("oauth: redirect target not trusted")
	}
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if r.OK() {
		q.Set("code", r.Code)
	} else {
		q.Set("error", r.Error)
		if r.ErrorDescription != "" {
			q.Set("error_description", r.ErrorDescription)
		}
	}
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseAuthorizeRedirect reads a result back out of a redirect location.
func ParseAuthorizeRedirect(location string) (AuthorizeResult, error) {
	u, err := url.Parse(location)
	if err != nil {
		return AuthorizeResult{}, err
	}
	q := u.Query()
	res := AuthorizeResult{
		Redirect:         true,
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	for _, k := range []string{"code", "state", "error", "error_description"} {
		q.Del(k)
	}
	u.RawQuery = q.Encode()
	res.RedirectURI = u.String()
	if !res.OK() {
		res.Err = apierr.ErrAuth.WithMessage(res.Error)
	}
	return res, nil
}

// Authorize validates a browser-driven request and issues a code. Errors are
// reported in the result, never returned.
func (p *Provider) Authorize(ctx context.Context, req AuthorizeRequest) AuthorizeResult {
	res := AuthorizeResult{RedirectURI: req.RedirectURI, State: req.State}
	fail := func(code, desc string, err error) AuthorizeResult {
		res.Error = code
		res.ErrorDescription = desc
		if err == nil {
			err = apierr.ErrAuth.WithMessage(code)
		}
		res.Err = err
		return res
	}

	client, err := p.activeClient(ctx, req.ClientID)
	if err != nil {
		return fail("server_error", "client lookup failed", err)
	}
	if client == nil {
		return fail("unauthorized_client", "unknown or inactive client", nil)
	}
	if !p.cfg.AcceptAnyRedirect && !client.ValidRedirect(req.RedirectURI) {
		return fail("invalid_request", "invalid redirect_uri", nil)
	}
	if !isSafeRedirectURI(req.RedirectURI) {
		return fail("invalid_request", "invalid redirect_uri", nil)
	}
	res.Redirect = true

	if req.ResponseType != "code" {
		return fail("unsupported_response_type", "response_type must be code", nil)
	}
	if !client.ValidateScopes(req.Scope) {
		return fail("invalid_scope", "scope not allowed for client", nil)
	}
	if !req.LoggedIn {
		return fail("access_denied", "login required", nil)
	}

	grant, err := p.issueCode(ctx, client.ID, req.AccountID, req.Scope)
	if err != nil {
		return fail("server_error", "failed to issue code", err)
	}
	res.Code = grant.Code
	res.ExpiresIn = grant.ExpiresIn
	return res
}

// TokenRequest is a token endpoint call.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RefreshToken string
	Scope        string
}

// TokenBundle is returned by Exchange and Refresh.
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	AccountID    int64  `json:"account_id,omitempty"`
}

// Exchange trades an authorization code (or a refresh token) for a new
// token pair. The code is consumed even when validation fails, so a code
// can never be replayed.
func (p *Provider) Exchange(ctx context.Context, req TokenRequest) (TokenBundle, error) {
	client, err := p.activeClient(ctx, req.ClientID)
	if err != nil {
		return TokenBundle{}, err
	}
	if client == nil || !client.CheckSecret(req.ClientSecret) {
		return TokenBundle{}, apierr.ErrAPIKey.WithMessage("invalid_client")
	}

	switch req.GrantType {
	case "", GrantAuthorizationCode:
		return p.exchangeCode(ctx, client, req)
	case GrantRefreshToken:
		return p.exchangeRefreshToken(ctx, client, req)
	default:
		return TokenBundle{}, apierr.ErrAuth.WithMessage("unsupported_grant_type")
	}
}

func (p *Provider) exchangeCode(ctx context.Context, client *Client, req TokenRequest) (TokenBundle, error) {
	if req.Code == "" {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_request")
	}
	rec, ok, err := p.tokens.TakeAuthorizationCode(ctx, client.ID, req.Code)
	if errors.Is(err, ErrMalformedRecord) {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_grant")
	}
	if err != nil {
		return TokenBundle{}, err
	}
	if !ok || rec.ClientID != client.ID {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_grant")
	}
	if !scopeMatches(rec.Scope, req.Scope) {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_scope")
	}
	return p.issuePair(ctx, rec)
}

// exchangeRefreshToken serves the standard refresh_token grant. The old
// refresh token is consumed; its access token lives out its ttl.
func (p *Provider) exchangeRefreshToken(ctx context.Context, client *Client, req TokenRequest) (TokenBundle, error) {
	if req.RefreshToken == "" {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_request")
	}
	rec, ok, err := p.tokens.GetRefreshToken(ctx, client.ID, req.RefreshToken)
	if errors.Is(err, ErrMalformedRecord) {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_grant")
	}
	if err != nil {
		return TokenBundle{}, err
	}
	if !ok || !scopeMatches(rec.Scope, req.Scope) {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_grant")
	}
	if _, ok, err := p.tokens.TakeRefreshToken(ctx, client.ID, req.RefreshToken); err != nil {
		return TokenBundle{}, err
	} else if !ok {
		return TokenBundle{}, apierr.ErrAuth.WithMessage("invalid_grant")
	}

	bundle, err := p.issuePair(ctx, rec)
	if err != nil {
		return TokenBundle{}, err
	}
	oldKey := RefreshTokenKey(client.ID, req.RefreshToken)
	if err := p.tokens.Discard(ctx, rec.ClientID, rec.AccountID, oldKey); err != nil {
		return TokenBundle{}, err
	}
	return bundle, nil
}

func (p *Provider) issuePair(ctx context.Context, rec Record) (TokenBundle, error) {
	access, err := p.newToken()
	if err != nil {
		return TokenBundle{}, err
	}
	refresh, err := p.newToken()
	if err != nil {
		return TokenBundle{}, err
	}
	if err := p.tokens.IssuePair(ctx, access, refresh, rec, p.cfg.AccessTTL); err != nil {
		return TokenBundle{}, err
	}
	return TokenBundle{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(p.cfg.AccessTTL / time.Second),
	}, nil
}

// RefreshRequest renews a pair. AccessToken is the token the caller holds
// alongside RefreshToken; it must have been issued to the same pair.
type RefreshRequest struct {
	ClientID     string
	AccessToken  string
	RefreshToken string
	Scope        string
}

// Refresh replaces the caller's pair with a new one and discards the old
// access and refresh tokens. The account is taken from the refresh record.
func (p *Provider) Refresh(ctx context.Context, req RefreshRequest) (TokenBundle, error) {
	if req.RefreshToken == "" {
		return TokenBundle{}, apierr.ErrInvalidRefreshToken
	}
	rec, ok, err := p.tokens.GetRefreshToken(ctx, req.ClientID, req.RefreshToken)
	if errors.Is(err, ErrMalformedRecord) {
		return TokenBundle{}, apierr.ErrInvalidAuthCredentials
	}
	if err != nil {
		return TokenBundle{}, err
	}
	if !ok || !scopeMatches(rec.Scope, req.Scope) {
		return TokenBundle{}, apierr.ErrInvalidRefreshToken
	}

	if req.AccessToken == "" {
		return TokenBundle{}, apierr.ErrInvalidAccessToken
	}
	accessKey := AccessTokenKey(req.AccessToken)
	member, err := p.tokens.IsMemberOfClientUserSet(ctx, rec.ClientID, rec.AccountID, accessKey)
	if err != nil {
		return TokenBundle{}, err
	}
	if !member {
		return TokenBundle{}, apierr.ErrInvalidAccessToken
	}

	// Only one concurrent refresh may consume the token.
	if _, ok, err := p.tokens.TakeRefreshToken(ctx, req.ClientID, req.RefreshToken); err != nil {
		return TokenBundle{}, err
	} else if !ok {
		return TokenBundle{}, apierr.ErrInvalidRefreshToken
	}

	bundle, err := p.issuePair(ctx, rec)
	if err != nil {
		return TokenBundle{}, err
	}
	refreshKey := RefreshTokenKey(rec.ClientID, req.RefreshToken)
	if err := p.tokens.Discard(ctx, rec.ClientID, rec.AccountID, accessKey, refreshKey); err != nil {
		return TokenBundle{}, err
	}
	bundle.AccountID = rec.AccountID
	return bundle, nil
}

// Revoke discards every token issued to the pair. It is idempotent.
func (p *Provider) Revoke(ctx context.Context, clientID string, accountID int64) error {
	return p.tokens.RevokeAll(ctx, clientID, accountID)
}

// TokenInfo describes a valid access token.
type TokenInfo struct {
	AccountID int64  `json:"account_id"`
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope"`
	ExpiresIn int64  `json:"expires_in"`
}

// Validate looks a bearer access token up. It fails with InvalidAccessToken
// once the token is revoked or its ttl has lapsed.
func (p *Provider) Validate(ctx context.Context, accessToken string) (TokenInfo, error) {
	if accessToken == "" {
		return TokenInfo{}, apierr.ErrInvalidAccessToken
	}
	rec, ok, err := p.tokens.GetAccessToken(ctx, accessToken)
	if errors.Is(err, ErrMalformedRecord) {
		return TokenInfo{}, apierr.ErrInvalidAccessToken
	}
	if err != nil {
		return TokenInfo{}, err
	}
	if !ok {
		return TokenInfo{}, apierr.ErrInvalidAccessToken
	}
	return TokenInfo{
		AccountID: rec.AccountID,
		ClientID:  rec.ClientID,
		Scope:     rec.Scope,
		ExpiresIn: int64(rec.ExpiresIn / time.Second),
	}, nil
}
