// Package directory owns accounts and registered API clients: lookups for
// the authorization provider plus account registration and verification.
package directory

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/oauth"
)

// Role is an account role.
type Role string

const (
	RoleTalent Role = "Talent"
	RoleMentor Role = "Mentor"
	RoleHR     Role = "HR"
	RoleTBD    Role = "TBD"
)

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.TrimSpace(s)); r {
	case RoleTalent, RoleMentor, RoleHR, RoleTBD:
		return r, nil
	default:
		return "", apierr.ErrInvalidRole
	}
}

// Account is an end user registered through one API client.
type Account struct {
	ID           int64
	ClientID     string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	Active       bool
	Verified     bool
	CreatedAt    time.Time
}

var _ oauth.Account = (*Account)(nil)

func (a *Account) AccountID() int64 { return a.ID }
func (a *Account) IsActive() bool   { return a.Active }
func (a *Account) IsVerified() bool { return a.Verified }

// CheckPassword compares plaintext with the stored bcrypt hash.
func (a *Account) CheckPassword(plaintext string) bool {
	if a.PasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(plaintext)) == nil
}

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(plaintext string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

// NormalizeEmail trims and lowercases an address, rejecting malformed ones.
func NormalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", apierr.ErrSchemaInvalid.WithMessage("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apierr.ErrSchemaInvalid.WithMessage("email is invalid")
	}
	return strings.ToLower(email), nil
}

// maxPasswordBytes is the longest input bcrypt hashes.
const maxPasswordBytes = 72

// ValidatePassword enforces the 6 to 64 character policy. Multibyte
// passwords must also fit bcrypt's 72 byte limit.
func ValidatePassword(pw string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(pw))
	if n < 6 || n > 64 {
		return apierr.ErrSchemaInvalid.WithMessage("password must be 6 to 64 characters")
	}
	if len(pw) > maxPasswordBytes {
		return apierr.ErrSchemaInvalid.WithMessage("password must be at most 72 bytes")
	}
	return nil
}

// ValidateFullName enforces the 2 to 64 character policy.
func ValidateFullName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < 2 || n > 64 {
		return apierr.ErrSchemaInvalid.WithMessage("fullname must be 2 to 64 characters")
	}
	return nil
}
