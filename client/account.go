package client

import (
	"context"
	"net/http"
	"net/url"
)

// Account is the server's view of a registered account.
type Account struct {
	AccountID         int64  `json:"account_id"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	Verified          bool   `json:"verified"`
	VerificationToken string `json:"verification_token,omitempty"`
}

// RegisterRequest carries a signup.
type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// Register creates an unverified account.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (Account, error) {
	form := url.Values{
		"email":    {req.Email},
		"password": {req.Password},
		"fullname": {req.FullName},
		"role":     {req.Role},
	}
	var acc Account
	err := c.do(ctx, http.MethodPost, "/account/register", form, "", &acc)
	return acc, err
}

// Validate confirms an email verification token.
func (c *Client) Validate(ctx context.Context, vhash string) (Account, error) {
	var acc Account
	err := c.do(ctx, http.MethodPost, "/account/validate", url.Values{"vhash": {vhash}}, "", &acc)
	return acc, err
}

// Resend asks for a new verification email. The token is only returned by
// servers running in dev mode.
func (c *Client) Resend(ctx context.Context, email string) (string, error) {
	var resp struct {
		VerificationToken string `json:"verification_token"`
	}
	err := c.do(ctx, http.MethodPost, "/account/register/resend", url.Values{"email": {email}}, "", &resp)
	return resp.VerificationToken, err
}

// AccountLogin checks credentials and discards every token the account holds
// for this client. It does not issue a code; use Login for that.
func (c *Client) AccountLogin(ctx context.Context, email, password string) (Account, error) {
	var acc Account
	err := c.do(ctx, http.MethodPost, "/account/login", url.Values{"email": {email}, "password": {password}}, "", &acc)
	return acc, err
}

// Recover asks for a password reset email. The token is only returned by
// servers running in dev mode.
func (c *Client) Recover(ctx context.Context, email string) (string, error) {
	var resp struct {
		ResetToken string `json:"reset_token"`
	}
	err := c.do(ctx, http.MethodPost, "/account/recover", url.Values{"email": {email}}, "", &resp)
	return resp.ResetToken, err
}

// CheckReset reports whether a reset token can still be used.
func (c *Client) CheckReset(ctx context.Context, vhash string) error {
	return c.do(ctx, http.MethodPost, "/account/reset/hash", url.Values{"vhash": {vhash}}, "", nil)
}

// ResetPassword sets a new password with a reset token. The token is spent.
func (c *Client) ResetPassword(ctx context.Context, vhash, password, confirm string) (Account, error) {
	form := url.Values{
		"vhash":    {vhash},
		"password": {password},
		"confirm":  {confirm},
	}
	var acc Account
	err := c.do(ctx, http.MethodPost, "/account/reset", form, "", &acc)
	return acc, err
}
