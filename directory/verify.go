package directory

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mikey73/onecareer/apierr"
)

// DefaultVerificationTTL is how long an email verification link stays valid.
const DefaultVerificationTTL = 7 * 24 * time.Hour

// Token audiences. A token issued for one purpose never parses as another.
const (
	AudienceVerification  = "account-verification"
	AudiencePasswordReset = "password-reset"
)

// Verifier issues and checks signed account tokens.
type Verifier struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewVerifier signs with secret using HS256.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = DefaultVerificationTTL
	}
	return &Verifier{key: []byte(secret), ttl: ttl, now: time.Now}
}

type verificationClaims struct {
	ClientID string `json:"cid"`
	jwt.RegisteredClaims
}

// Ticket is a parsed account token.
type Ticket struct {
	ID        string
	AccountID int64
	ClientID  string
	ExpiresAt time.Time
}

// Issue returns a token for acc, valid for audience only.
func (v *Verifier) Issue(acc *Account, audience string) (string, error) {
	now := v.now()
	claims := verificationClaims{
		ClientID: acc.ClientID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(acc.ID, 10),
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", audience, err)
	}
	return signed, nil
}

// Parse checks a token issued for audience to an account of clientID.
func (v *Verifier) Parse(token, audience, clientID string) (Ticket, error) {
	var claims verificationClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Ticket{}, apierr.ErrVerificationExpired
	}
	if err != nil || claims.ClientID != clientID {
		return Ticket{}, apierr.ErrInvalidVerification
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return Ticket{}, apierr.ErrInvalidVerification
	}
	return Ticket{
		ID:        claims.ID,
		AccountID: id,
		ClientID:  claims.ClientID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
