package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey73/onecareer/apierr"
	"github.com/mikey73/onecareer/kv"
	"github.com/mikey73/onecareer/oauth"
)

// ErrDelivery wraps mailer failures. The account change it follows has
// already been committed.
var ErrDelivery = errors.New("verification delivery failed")

// Service implements account lookups for the authorization provider, the
// registration and verification flow, and password recovery.
type Service struct {
	repo     Repository
	mailer   Mailer
	verifier *Verifier
	// used records consumed reset tokens until they expire.
	used kv.Store
}

var _ oauth.AccountDirectory = (*Service)(nil)

// NewService wires the account service.
func NewService(repo Repository, mailer Mailer, verifier *Verifier, used kv.Store) *Service {
	return &Service{repo: repo, mailer: mailer, verifier: verifier, used: used}
}

// UsedResetKey marks a consumed password reset token.
func UsedResetKey(tokenID string) string {
	return "pw_reset_used:" + tokenID
}

// FindAccount implements oauth.AccountDirectory.
func (s *Service) FindAccount(ctx context.Context, email, clientID string) (oauth.Account, bool, error) {
	norm, err := NormalizeEmail(email)
	if err != nil {
		return nil, false, nil
	}
	acc, err := s.repo.AccountByEmail(ctx, norm, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return acc, true, nil
}

// RegisterRequest carries a signup.
type RegisterRequest struct {
	ClientID string
	Email    string
	Password string
	FullName string
	Role     string
}

// Register creates an active, unverified account and sends a verification
// token. On ErrDelivery the account exists and the token is still returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Account, string, error) {
	email, err := NormalizeEmail(req.Email)
	if err != nil {
		return nil, "", err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, "", err
	}
	if err := ValidateFullName(req.FullName); err != nil {
		return nil, "", err
	}
	role, err := ParseRole(req.Role)
	if err != nil {
		return nil, "", err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, "", err
	}
	acc := &Account{
		ClientID:     req.ClientID,
		Email:        email,
		FullName:     req.FullName,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.repo.CreateAccount(ctx, acc); err != nil {
		return nil, "", err
	}

	token, err := s.sendVerification(ctx, acc)
	return acc, token, err
}

func (s *Service) sendVerification(ctx context.Context, acc *Account) (string, error) {
	token, err := s.verifier.Issue(acc, AudienceVerification)
	if err != nil {
		return "", err
	}
	if err := s.mailer.SendVerification(ctx, acc, token); err != nil {
		return token, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return token, nil
}

// Verify marks the account a verification token was issued for as verified.
// The token must belong to an account of clientID.
func (s *Service) Verify(ctx context.Context, token, clientID string) (*Account, error) {
	acc, _, err := s.ticketAccount(ctx, token, AudienceVerification, clientID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetVerified(ctx, acc.ID, true); err != nil {
		return nil, err
	}
	acc.Verified = true
	return acc, nil
}

// ticketAccount parses token and loads the account it names.
func (s *Service) ticketAccount(ctx context.Context, token, audience, clientID string) (*Account, Ticket, error) {
	ticket, err := s.verifier.Parse(token, audience, clientID)
	if err != nil {
		return nil, Ticket{}, err
	}
	acc, err := s.repo.AccountByID(ctx, ticket.AccountID)
	if errors.Is(err, ErrNotFound) {
		return nil, Ticket{}, apierr.ErrInvalidVerification
	}
	if err != nil {
		return nil, Ticket{}, err
	}
	if acc.ClientID != clientID {
		return nil, Ticket{}, apierr.ErrInvalidVerification
	}
	return acc, ticket, nil
}

func (s *Service) accountByEmail(ctx context.Context, email, clientID string) (*Account, error) {
	norm, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	acc, err := s.repo.AccountByEmail(ctx, norm, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, apierr.ErrEmailOrPasswordNotFound
	}
	return acc, err
}

// Resend issues a fresh verification token for an unverified account.
func (s *Service) Resend(ctx context.Context, email, clientID string) (string, error) {
	acc, err := s.accountByEmail(ctx, email, clientID)
	if err != nil {
		return "", err
	}
	if acc.Verified {
		return "", apierr.ErrInvalidVerification.WithMessage("account already verified")
	}
	return s.sendVerification(ctx, acc)
}

// Recover mails a password reset token to the account's address.
// On ErrDelivery the token is still returned.
func (s *Service) Recover(ctx context.Context, email, clientID string) (string, error) {
	acc, err := s.accountByEmail(ctx, email, clientID)
	if err != nil {
		return "", err
	}
	token, err := s.verifier.Issue(acc, AudiencePasswordReset)
	if err != nil {
		return "", err
	}
	if err := s.mailer.SendPasswordReset(ctx, acc, token); err != nil {
		return token, fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return token, nil
}

// CheckReset reports whether a reset token can still be used. It does not
// consume the token.
func (s *Service) CheckReset(ctx context.Context, token, clientID string) error {
	_, ticket, err := s.ticketAccount(ctx, token, AudiencePasswordReset, clientID)
	if err != nil {
		return err
	}
	ttl, err := s.used.TTL(ctx, UsedResetKey(ticket.ID))
	if err != nil {
		return err
	}
	if ttl != kv.MissingKey {
		return apierr.ErrInvalidVerification
	}
	return nil
}

// ResetRequest sets a new password with a reset token.
type ResetRequest struct {
	ClientID string
	Token    string
	Password string
	Confirm  string
}

// ResetPassword consumes the reset token and replaces the password. A token
// works once; the account is marked verified.
func (s *Service) ResetPassword(ctx context.Context, req ResetRequest) (*Account, error) {
	if req.Password != req.Confirm {
		return nil, apierr.ErrPasswordConfirm
	}
	if err := ValidatePassword(req.Password); err != nil {
		return nil, err
	}
	acc, ticket, err := s.ticketAccount(ctx, req.Token, AudiencePasswordReset, req.ClientID)
	if err != nil {
		return nil, err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	if err := s.consume(ctx, ticket); err != nil {
		return nil, err
	}
	if err := s.repo.SetPassword(ctx, acc.ID, hash); err != nil {
		return nil, err
	}
	acc.PasswordHash = hash
	acc.Verified = true
	return acc, nil
}

// consume marks ticket used until it expires. Only the first caller wins.
func (s *Service) consume(ctx context.Context, ticket Ticket) error {
	ttl := ticket.ExpiresAt.Sub(s.verifier.now())
	if ttl <= 0 {
		return apierr.ErrVerificationExpired
	}
	key := UsedResetKey(ticket.ID)
	var count *kv.Counter
	err := s.used.Pipeline(ctx, func(p kv.Pipe) {
		count = p.Incr(key)
		p.Expire(key, ttl)
	})
	if err != nil {
		return err
	}
	if count.Val() > 1 {
		return apierr.ErrInvalidVerification
	}
	return nil
}

// AccountSeed describes an account created at startup.
type AccountSeed struct {
	// ID is honoured by the in-memory repository only.
	ID       int64  `yaml:"id"`
	ClientID string `yaml:"client_id"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
	FullName string `yaml:"fullname"`
	Role     string `yaml:"role"`
}

// Seed creates verified, active accounts. Existing emails are skipped.
func (s *Service) Seed(ctx context.Context, seeds []AccountSeed) error {
	for _, seed := range seeds {
		email, err := NormalizeEmail(seed.Email)
		if err != nil {
			return fmt.Errorf("seed %q: %w", seed.Email, err)
		}
		role := RoleTalent
		if seed.Role != "" {
			if role, err = ParseRole(seed.Role); err != nil {
				return fmt.Errorf("seed %q: %w", seed.Email, err)
			}
		}
		if err := ValidatePassword(seed.Password); err != nil {
			return fmt.Errorf("seed %q: %w", seed.Email, err)
		}
		hash, err := HashPassword(seed.Password)
		if err != nil {
			return err
		}
		acc := &Account{
			ID:           seed.ID,
			ClientID:     seed.ClientID,
			Email:        email,
			FullName:     seed.FullName,
			PasswordHash: hash,
			Role:         role,
			Active:       true,
			Verified:     true,
		}
		err = s.repo.CreateAccount(ctx, acc)
		if err != nil && !errors.Is(err, apierr.ErrEmailExists) {
			return fmt.Errorf("seed %q: %w", seed.Email, err)
		}
	}
	return nil
}
