package directory

import (
	"context"
	"log/slog"
	"net/url"
)

// Mailer delivers account emails.
type Mailer interface {
	SendVerification(ctx context.Context, acc *Account, token string) error
	SendPasswordReset(ctx context.Context, acc *Account, token string) error
}

// LogMailer writes account links to the log instead of sending mail.
type LogMailer struct {
	Logger      *slog.Logger
	ValidateURL string
	ResetURL    string
}

func (m LogMailer) SendVerification(ctx context.Context, acc *Account, token string) error {
	m.log(ctx, "verification email", acc, withToken(m.ValidateURL, token))
	return nil
}

func (m LogMailer) SendPasswordReset(ctx context.Context, acc *Account, token string) error {
	m.log(ctx, "password reset email", acc, withToken(m.ResetURL, token))
	return nil
}

func (m LogMailer) log(ctx context.Context, msg string, acc *Account, link string) {
	m.Logger.InfoContext(ctx, msg,
		"account_id", acc.ID,
		"client_id", acc.ClientID,
		"email", acc.Email,
		"link", link,
	)
}

// withToken appends the vhash query parameter to base.
func withToken(base, token string) string {
	u, err := url.Parse(base)
	if err != nil || base == "" {
		return base
	}
	q := u.Query()
	q.Set("vhash", token)
	u.RawQuery = q.Encode()
	return u.String()
}
