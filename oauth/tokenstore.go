package oauth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mikey73/onecareer/kv"
)

// Default lifetimes.
const (
	DefaultCodeTTL   = 60 * time.Second
	DefaultAccessTTL = 3600 * time.Second
)

// ErrMalformedRecord reports a stored hash that cannot be decoded.
var ErrMalformedRecord = errors.New("oauth: malformed token record")

const (
	fieldClientID  = "client_id"
	fieldScope     = "scope"
	fieldAccountID = "account_id"
)

// AuthorizationCodeKey is the store key of a code issued to clientID.
func AuthorizationCodeKey(clientID, code string) string {
	return fmt.Sprintf("oauth2:authorization_code:%s:%s", clientID, code)
}

// AccessTokenKey is the store key of an access token.
func AccessTokenKey(token string) string {
	return "oauth2:access_token:" + token
}

// RefreshTokenKey is the store key of a refresh token issued to clientID.
func RefreshTokenKey(clientID, token string) string {
	return fmt.Sprintf("oauth2:refresh_token:%s:%s", clientID, token)
}

// ClientUserKey is the store key of the set of tokens issued to a pair.
func ClientUserKey(clientID string, accountID int64) string {
	return fmt.Sprintf("oauth2:client_user:%s:%d", clientID, accountID)
}

// Record is the triple every code and token is bound to.
type Record struct {
	ClientID  string
	AccountID int64
	Scope     string
}

func (r Record) fields() map[string]string {
	return map[string]string{
		fieldClientID:  r.ClientID,
		fieldScope:     r.Scope,
		fieldAccountID: strconv.FormatInt(r.AccountID, 10),
	}
}

func decodeRecord(key string, m map[string]string) (Record, bool, error) {
	if len(m) == 0 {
		return Record{}, false, nil
	}
	accountID, err := strconv.ParseInt(m[fieldAccountID], 10, 64)
	if err != nil || m[fieldClientID] == "" {
		return Record{}, false, fmt.Errorf("%w: %s", ErrMalformedRecord, key)
	}
	return Record{
		ClientID:  m[fieldClientID],
		AccountID: accountID,
		Scope:     m[fieldScope],
	}, true, nil
}

// AccessRecord is an access token record with its remaining lifetime.
type AccessRecord struct {
	Record
	ExpiresIn time.Duration
}

// TokenStore reads and writes codes, tokens and per-pair token sets.
// It performs no retries; store failures are returned as they are.
type TokenStore struct {
	kv kv.Store
}

// NewTokenStore wraps a key-value store.
func NewTokenStore(store kv.Store) *TokenStore {
	return &TokenStore{kv: store}
}

// PutAuthorizationCode writes a code record with a ttl (DefaultCodeTTL when zero).
// A colliding code is overwritten.
func (s *TokenStore) PutAuthorizationCode(ctx context.Context, clientID, code string, accountID int64, scope string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}
	key := AuthorizationCodeKey(clientID, code)
	rec := Record{ClientID: clientID, AccountID: accountID, Scope: scope}
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.Del(key)
		p.HSet(key, rec.fields())
		p.Expire(key, ttl)
	})
}

// GetAuthorizationCode returns the code record, or false if absent or expired.
func (s *TokenStore) GetAuthorizationCode(ctx context.Context, clientID, code string) (Record, bool, error) {
	key := AuthorizationCodeKey(clientID, code)
	m, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return decodeRecord(key, m)
}

// TakeAuthorizationCode reads and deletes the code in one atomic step, so at
// most one caller observes it.
func (s *TokenStore) TakeAuthorizationCode(ctx context.Context, clientID, code string) (Record, bool, error) {
	key := AuthorizationCodeKey(clientID, code)
	m, err := s.kv.TakeHash(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return decodeRecord(key, m)
}

// DeleteAuthorizationCode removes a code record.
func (s *TokenStore) DeleteAuthorizationCode(ctx context.Context, clientID, code string) error {
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.Del(AuthorizationCodeKey(clientID, code))
	})
}

// PutAccessToken writes an access token with a ttl (DefaultAccessTTL when zero).
func (s *TokenStore) PutAccessToken(ctx context.Context, token string, rec Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultAccessTTL
	}
	key := AccessTokenKey(token)
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.HSet(key, rec.fields())
		p.Expire(key, ttl)
	})
}

// PutRefreshToken writes a refresh token. Refresh tokens do not expire.
func (s *TokenStore) PutRefreshToken(ctx context.Context, token string, rec Record) error {
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.HSet(RefreshTokenKey(rec.ClientID, token), rec.fields())
	})
}

// GetAccessToken returns the record and its remaining lifetime.
func (s *TokenStore) GetAccessToken(ctx context.Context, token string) (AccessRecord, bool, error) {
	key := AccessTokenKey(token)
	m, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return AccessRecord{}, false, err
	}
	rec, ok, err := decodeRecord(key, m)
	if err != nil || !ok {
		return AccessRecord{}, ok, err
	}

	ttl, err := s.kv.TTL(ctx, key)
	if err != nil {
		return AccessRecord{}, false, err
	}
	if ttl == kv.MissingKey {
		// Expired between the two reads.
		return AccessRecord{}, false, nil
	}
	if ttl < 0 {
		ttl = 0
	}
	return AccessRecord{Record: rec, ExpiresIn: ttl}, true, nil
}

// GetRefreshToken returns the refresh token record issued to clientID.
func (s *TokenStore) GetRefreshToken(ctx context.Context, clientID, token string) (Record, bool, error) {
	key := RefreshTokenKey(clientID, token)
	m, err := s.kv.HGetAll(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return decodeRecord(key, m)
}

// TakeRefreshToken reads and deletes a refresh token atomically.
func (s *TokenStore) TakeRefreshToken(ctx context.Context, clientID, token string) (Record, bool, error) {
	key := RefreshTokenKey(clientID, token)
	m, err := s.kv.TakeHash(ctx, key)
	if err != nil {
		return Record{}, false, err
	}
	return decodeRecord(key, m)
}

// RegisterIssued adds token keys to the pair's token set.
func (s *TokenStore) RegisterIssued(ctx context.Context, clientID string, accountID int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.SAdd(ClientUserKey(clientID, accountID), keys...)
	})
}

// IssuePair writes an access and refresh token and registers both in the
// pair's token set as one atomic batch.
func (s *TokenStore) IssuePair(ctx context.Context, accessToken, refreshToken string, rec Record, accessTTL time.Duration) error {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	accessKey := AccessTokenKey(accessToken)
	refreshKey := RefreshTokenKey(rec.ClientID, refreshToken)
	fields := rec.fields()
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.HSet(accessKey, fields)
		p.Expire(accessKey, accessTTL)
		p.HSet(refreshKey, fields)
		p.SAdd(ClientUserKey(rec.ClientID, rec.AccountID), accessKey, refreshKey)
	})
}

// Discard deletes the given token keys and drops them from the pair's set.
func (s *TokenStore) Discard(ctx context.Context, clientID string, accountID int64, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.kv.Pipeline(ctx, func(p kv.Pipe) {
		p.Del(keys...)
		p.SRem(ClientUserKey(clientID, accountID), keys...)
	})
}

// RevokeAll deletes every token in the pair's set. The set disappears with
// its last member; keys added after the read survive. An empty set is a no-op.
func (s *TokenStore) RevokeAll(ctx context.Context, clientID string, accountID int64) error {
	members, err := s.kv.SMembers(ctx, ClientUserKey(clientID, accountID))
	if err != nil {
		return err
	}
	return s.Discard(ctx, clientID, accountID, members...)
}

// IsMemberOfClientUserSet reports whether key was issued to the pair.
func (s *TokenStore) IsMemberOfClientUserSet(ctx context.Context, clientID string, accountID int64, key string) (bool, error) {
	return s.kv.SIsMember(ctx, ClientUserKey(clientID, accountID), key)
}

// generateToken returns 20 random bytes, hex encoded.
func generateToken() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
