// Package client is a Go client for the onecareer authorization API.
//
// The authorization_code and refresh_token grants go through
// golang.org/x/oauth2; the remaining endpoints are plain form posts.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/oauth"
)

// Config identifies the API client and the server it talks to.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// RedirectURI is only needed for AuthCodeURL.
	RedirectURI string
	HTTPClient  *http.Client
}

// Client calls the authorization API on behalf of one API client.
type Client struct {
	base   string
	cfg    Config
	http   *http.Client
	oauth2 *oauth2.Config
}

// New validates cfg and builds a client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid base url %q", cfg.BaseURL)
	}
	if cfg.ClientID == "" {
		return nil, errors.New("client: client id required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		base: base,
		cfg:  cfg,
		http: hc,
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
	}, nil
}

// RateLimit is the limiter state reported with a response.
type RateLimit struct {
	Limit     int64
	Remaining int64
	Reset     time.Time
}

func parseRateLimit(h http.Header) (RateLimit, bool) {
	limit, err := strconv.ParseInt(h.Get("X-RateLimit-Limit"), 10, 64)
	if err != nil {
		return RateLimit{}, false
	}
	remaining, _ := strconv.ParseInt(h.Get("X-RateLimit-Remaining"), 10, 64)
	reset, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)
	return RateLimit{Limit: limit, Remaining: remaining, Reset: time.Unix(reset, 0)}, true
}

// APIError is a failure reported by the server. errors.Is matches it
// against the apierr kinds.
type APIError struct {
	Status    int
	Code      int
	Message   string
	RequestID string
	RateLimit *RateLimit
}

func (e *APIError) Error() string {
	return fmt.Sprintf("onecareer: %d (%d: %s)", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	kind, ok := apierr.Lookup(e.Code)
	return ok && errors.Is(kind, target)
}

// RetryAfter reports how long to wait before a rate-limited call may
// succeed.
func (e *APIError) RetryAfter(now time.Time) time.Duration {
	if e.RateLimit == nil || !e.RateLimit.Reset.After(now) {
		return 0
	}
	return e.RateLimit.Reset.Sub(now)
}

func decodeAPIError(status int, h http.Header, body []byte) *APIError {
	e := &APIError{Status: status, Message: http.StatusText(status)}
	var wire struct {
		Error struct {
			Code      int    `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error.Code != 0 {
		e.Code = wire.Error.Code
		e.Message = wire.Error.Message
		e.RequestID = wire.Error.RequestID
	}
	if rl, ok := parseRateLimit(h); ok {
		e.RateLimit = &rl
	}
	return e
}

// do posts form (or GETs when form is nil) and decodes a JSON reply into out.
func (c *Client) do(ctx context.Context, method, path string, form url.Values, bearer string, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	} else {
		req.SetBasicAuth(url.QueryEscape(c.cfg.ClientID), url.QueryEscape(c.cfg.ClientSecret))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(resp.StatusCode, resp.Header, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return nil
}

// Ping checks the server is up.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/ping", nil, "", nil)
}

// Grant is an issued authorization code.
type Grant struct {
	Code      string `json:"code"`
	ExpiresIn int64  `json:"expires_in"`
}

// Login trades account credentials for an authorization code.
func (c *Client) Login(ctx context.Context, email, password, scope string) (Grant, error) {
	form := url.Values{"email": {email}, "password": {password}}
	if scope != "" {
		form.Set("scope", scope)
	}
	var g Grant
	err := c.do(ctx, http.MethodPost, "/oauth2/auth", form, "", &g)
	return g, err
}

// AuthCodeURL builds the browser URL of the redirect flow.
func (c *Client) AuthCodeURL(state, scope string) string {
	var opts []oauth2.AuthCodeOption
	if scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", scope))
	}
	return c.oauth2.AuthCodeURL(state, opts...)
}

func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Exchange trades an authorization code for a token pair. The token's
// Extra("account_id") is not set on this grant.
func (c *Client) Exchange(ctx context.Context, code, scope string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if scope != "" {
		opts = append(opts, oauth2.SetAuthURLParam("scope", scope))
	}
	tok, err := c.oauth2.Exchange(c.oauth2Context(ctx), code, opts...)
	return tok, convertRetrieveError(err)
}

// TokenSource returns a source that renews tok through the refresh_token
// grant once it expires.
func (c *Client) TokenSource(ctx context.Context, tok *oauth2.Token) oauth2.TokenSource {
	return &errorConvertingSource{src: c.oauth2.TokenSource(c.oauth2Context(ctx), tok)}
}

type errorConvertingSource struct {
	src oauth2.TokenSource
}

func (s *errorConvertingSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	return tok, convertRetrieveError(err)
}

func convertRetrieveError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return decodeAPIError(re.Response.StatusCode, re.Response.Header, re.Body)
	}
	return err
}

// Refresh replaces the pair with a new one through /oauth2/refresh. Unlike
// the refresh_token grant, the old access token is discarded immediately.
func (c *Client) Refresh(ctx context.Context, accessToken, refreshToken, scope string) (oauth.TokenBundle, error) {
	form := url.Values{"access_token": {accessToken}, "refresh_token": {refreshToken}}
	if scope != "" {
		form.Set("scope", scope)
	}
	var b oauth.TokenBundle
	err := c.do(ctx, http.MethodPost, "/oauth2/refresh", form, "", &b)
	return b, err
}

// TokenInfo describes what accessToken grants.
func (c *Client) TokenInfo(ctx context.Context, accessToken string) (oauth.TokenInfo, error) {
	var info oauth.TokenInfo
	err := c.do(ctx, http.MethodGet, "/oauth2/tokeninfo", nil, accessToken, &info)
	return info, err
}

// Invalidate revokes every token of the account behind accessToken.
func (c *Client) Invalidate(ctx context.Context, accessToken string) error {
	return c.do(ctx, http.MethodPost, "/oauth2/invalidate", url.Values{}, accessToken, nil)
}
