package directory

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mikey73/onecareer/apierr"
)

func TestParseRole(t *testing.T) {
	for _, name := range []string{"Talent", "Mentor", "HR", "TBD"} {
		role, err := ParseRole(name)
		require.NoError(t, err)
		require.Equal(t, Role(name), role)
	}
	_, err := ParseRole("Admin")
	require.ErrorIs(t, err, apierr.ErrInvalidRole)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)

	acc := &Account{PasswordHash: hash}
	require.True(t, acc.CheckPassword("secret"))
	require.False(t, acc.CheckPassword("Secret"))
	require.False(t, (&Account{}).CheckPassword(""))
}

func TestNormalizeEmail(t *testing.T) {
	got, err := NormalizeEmail("  A@B.com ")
	require.NoError(t, err)
	require.Equal(t, "a@b.com", got)

	for _, bad := range []string{"", "not-an-email", "Name <a@b.com>"} {
		_, err := NormalizeEmail(bad)
		require.ErrorIs(t, err, apierr.ErrSchemaInvalid, bad)
	}
}

func TestFieldPolicies(t *testing.T) {
	require.ErrorIs(t, ValidatePassword("12345"), apierr.ErrSchemaInvalid)
	require.NoError(t, ValidatePassword("123456"))
	// 40 characters, 80 bytes: too long for bcrypt.
	require.ErrorIs(t, ValidatePassword(strings.Repeat("é", 40)), apierr.ErrSchemaInvalid)
	require.NoError(t, ValidatePassword(strings.Repeat("é", 36)))
	require.ErrorIs(t, ValidateFullName("A"), apierr.ErrSchemaInvalid)
	require.NoError(t, ValidateFullName("Ann"))
}
