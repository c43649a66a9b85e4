package directory

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no account matches.
var ErrNotFound = errors.New("account not found")

// Repository persists accounts. Emails are unique per client; CreateAccount
// fails with apierr.ErrEmailExists on a duplicate.
type Repository interface {
	AccountByEmail(ctx context.Context, email, clientID string) (*Account, error)
	AccountByID(ctx context.Context, id int64) (*Account, error)
	CreateAccount(ctx context.Context, acc *Account) error
	SetVerified(ctx context.Context, id int64, verified bool) error
	// SetPassword replaces the hash and marks the account verified, since a
	// reset link proves control of the mailbox.
	SetPassword(ctx context.Context, id int64, hash string) error
	Close()
}
