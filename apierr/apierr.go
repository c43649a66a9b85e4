// Package apierr defines the failure kinds surfaced by the authorization core.
// Each kind carries a stable numeric code that the HTTP boundary exposes to callers.
package apierr

import "fmt"

// Error is a typed failure with a stable code. Kinds may belong to a family,
// so errors.Is(ErrInvalidAccessToken, ErrAuth) reports true.
type Error struct {
	Code    int
	Message string
	family  *Error
}

func (e *Error) Error() string {
	return fmt.Sprintf("(%d: %s)", e.Code, e.Message)
}

// Is matches on code and walks the family chain.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	for cur := e; cur != nil; cur = cur.family {
		if cur.Code == t.Code {
			return true
		}
	}
	return false
}

// WithMessage returns a failure of the same kind carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Family returns the parent kind, or nil for a root kind.
func (e *Error) Family() *Error {
	return e.family
}

var kinds = map[int]*Error{}

func newKind(code int, msg string, family *Error) *Error {
	e := &Error{Code: code, Message: msg, family: family}
	kinds[code] = e
	return e
}

// Lookup returns the registered kind for a numeric code.
func Lookup(code int) (*Error, bool) {
	e, ok := kinds[code]
	return e, ok
}

var (
	ErrInternal          = newKind(1000, "Internal Server Error", nil)
	ErrSchemaInvalid     = newKind(1003, "Schema validation failed", nil)
	ErrRateLimitExceeded = newKind(1004, "API Rate limit exceeded", nil)

	ErrAuth                   = newKind(1200, "Authentication failed", nil)
	ErrInvalidRefreshToken    = newKind(1201, "Invalid refresh token", ErrAuth)
	ErrInvalidAccessToken     = newKind(1202, "Invalid access token", ErrAuth)
	ErrInvalidAuthCredentials = newKind(1203, "Invalid authorization credentials", ErrAuth)
	ErrAPIKey                 = newKind(1204, "Invalid API key credentials", ErrAuth)

	ErrAccount                 = newKind(1300, "An unknown account error occurred", nil)
	ErrPasswordConfirm         = newKind(1302, "Password and confirmation do not match", ErrAccount)
	ErrEmailExists             = newKind(1305, "An account with that email address exists", ErrAccount)
	ErrEmailOrPasswordNotFound = newKind(1306, "Email and/or password not found", ErrAccount)
	ErrAccountInactive         = newKind(1307, "Account is not active", ErrAccount)
	ErrAccountNotVerified      = newKind(1308, "Account is not verified", ErrAccount)
	ErrInvalidVerification     = newKind(1309, "Invalid verification code", ErrAccount)
	ErrVerificationExpired     = newKind(1310, "Verification code has expired", ErrAccount)

	ErrInvalidRole = newKind(1400, "Invalid role", nil)

	// ErrStoreUnavailable marks infrastructure failures of the backing stores.
	ErrStoreUnavailable = newKind(2300, "Database Error", nil)
)

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e, true
		}
		switch u := err.(type) {
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if e, ok := As(inner); ok {
					return e, true
				}
			}
			return nil, false
		default:
			return nil, false
		}
	}
	return nil, false
}
