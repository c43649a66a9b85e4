package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mikey73/onecareer/kv"
)

func TestKeyLayout(t *testing.T) {
	require.Equal(t, "oauth2:authorization_code:C1:abc", AuthorizationCodeKey("C1", "abc"))
	require.Equal(t, "oauth2:access_token:tok", AccessTokenKey("tok"))
	require.Equal(t, "oauth2:refresh_token:C1:tok", RefreshTokenKey("C1", "tok"))
	require.Equal(t, "oauth2:client_user:C1:42", ClientUserKey("C1", 42))
}

func TestAuthorizationCodeLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	store := kv.NewMemoryWithClock(clock.Now)
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.PutAuthorizationCode(ctx, "C1", "k1", 42, "read", 0))

	ttl, err := store.TTL(ctx, AuthorizationCodeKey("C1", "k1"))
	require.NoError(t, err)
	require.Equal(t, DefaultCodeTTL, ttl)

	raw, err := store.HGetAll(ctx, AuthorizationCodeKey("C1", "k1"))
	require.NoError(t, err)
	require.Equal(t, map[string]string{"client_id": "C1", "scope": "read", "account_id": "42"}, raw)

	rec, ok, err := tokens.GetAuthorizationCode(ctx, "C1", "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Record{ClientID: "C1", AccountID: 42, Scope: "read"}, rec)

	require.NoError(t, tokens.DeleteAuthorizationCode(ctx, "C1", "k1"))
	_, ok, err = tokens.GetAuthorizationCode(ctx, "C1", "k1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, tokens.PutAuthorizationCode(ctx, "C1", "k2", 42, "", 5*time.Second))
	clock.Advance(5 * time.Second)
	_, ok, err = tokens.TakeAuthorizationCode(ctx, "C1", "k2")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRefreshTokenHasNoTTL(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tokens := NewTokenStore(store)

	rec := Record{ClientID: "C1", AccountID: 42}
	require.NoError(t, tokens.PutRefreshToken(ctx, "r1", rec))
	require.NoError(t, tokens.PutAccessToken(ctx, "a1", rec, 0))
	require.NoError(t, tokens.RegisterIssued(ctx, "C1", 42, AccessTokenKey("a1"), RefreshTokenKey("C1", "r1")))

	ttl, err := store.TTL(ctx, RefreshTokenKey("C1", "r1"))
	require.NoError(t, err)
	require.Equal(t, kv.NoExpiry, ttl)

	got, ok, err := tokens.GetAccessToken(ctx, "a1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, DefaultAccessTTL, got.ExpiresIn)

	member, err := tokens.IsMemberOfClientUserSet(ctx, "C1", 42, RefreshTokenKey("C1", "r1"))
	require.NoError(t, err)
	require.True(t, member)
}

func TestRevokeAll(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.RevokeAll(ctx, "C1", 42))

	require.NoError(t, tokens.IssuePair(ctx, "a1", "r1", Record{ClientID: "C1", AccountID: 42}, 0))
	require.NoError(t, tokens.IssuePair(ctx, "a2", "r2", Record{ClientID: "C1", AccountID: 7}, 0))

	require.NoError(t, tokens.RevokeAll(ctx, "C1", 42))

	_, ok, err := tokens.GetAccessToken(ctx, "a1")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = tokens.GetRefreshToken(ctx, "C1", "r1")
	require.NoError(t, err)
	require.False(t, ok)

	ttl, err := store.TTL(ctx, ClientUserKey("C1", 42))
	require.NoError(t, err)
	require.Equal(t, kv.MissingKey, ttl)

	_, ok, err = tokens.GetAccessToken(ctx, "a2")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGenerateToken(t *testing.T) {
	a, err := generateToken()
	require.NoError(t, err)
	b, err := generateToken()
	require.NoError(t, err)
	require.Len(t, a, 40)
	require.NotEqual(t, a, b)
}
