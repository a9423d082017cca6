package auth

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/iu2frl/cloudshell/internal/store"
)

func newTestStore(t *testing.T, clock clockwork.Clock) *Store {
	t.Helper()
	db, err := store.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(Config{
		DB:              db,
		SecretKey:       "unit-test-secret",
		TokenTTL:        time.Hour,
		DefaultUsername: "admin",
		DefaultPassword: "changeme",
		Clock:           clock,
	})
	require.NoError(t, err)
	return s
}

func TestIssueAndValidate(t *testing.T) {
	s := newTestStore(t, clockwork.NewRealClock())
	tok, _, err := s.Issue("admin")
	require.NoError(t, err)

	p, err := s.Validate(context.Background(), tok)
	require.NoError(t, err)
	require.Equal(t, "admin", p.Subject)
}

func TestValidateRejectsBootMismatch(t *testing.T) {
	s1 := newTestStore(t, clockwork.NewRealClock())
	tok, _, err := s1.Issue("admin")
	require.NoError(t, err)

	s2 := newTestStore(t, clockwork.NewRealClock())
	_, err = s2.Validate(context.Background(), tok)
	require.Error(t, err)
	var tErr *TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, ReasonBootMismatch, tErr.Reason)
}

func TestLogoutIsIdempotentAndRejectsFurtherUse(t *testing.T) {
	s := newTestStore(t, clockwork.NewRealClock())
	tok, _, err := s.Issue("admin")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Logout(ctx, tok))
	require.NoError(t, s.Logout(ctx, tok)) // idempotent

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM revoked_tokens`).Scan(&count))
	require.Equal(t, 1, count)

	_, err = s.Validate(ctx, tok)
	require.Error(t, err)
	var tErr *TokenError
	require.ErrorAs(t, err, &tErr)
	require.Equal(t, ReasonRevoked, tErr.Reason)
}

func TestRefreshRevokesPreviousToken(t *testing.T) {
	s := newTestStore(t, clockwork.NewRealClock())
	ctx := context.Background()

	tok1, _, err := s.Issue("admin")
	require.NoError(t, err)

	tok2, _, err := s.Refresh(ctx, tok1)
	require.NoError(t, err)
	require.NotEqual(t, tok1, tok2)

	_, err = s.Validate(ctx, tok1)
	require.Error(t, err)

	p, err := s.Validate(ctx, tok2)
	require.NoError(t, err)
	require.Equal(t, "admin", p.Subject)
}

func TestVerifyPasswordFallsBackToDefaultThenHash(t *testing.T) {
	s := newTestStore(t, clockwork.NewRealClock())
	ctx := context.Background()

	ok, err := s.VerifyPassword(ctx, "admin", "changeme")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.ChangePassword(ctx, "admin", "changeme", "new-password-1"))

	ok, err = s.VerifyPassword(ctx, "admin", "changeme")
	require.NoError(t, err)
	require.False(t, ok, "default password must no longer work once a hash row exists")

	ok, err = s.VerifyPassword(ctx, "admin", "new-password-1")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChangePasswordRejectsShortPassword(t *testing.T) {
	s := newTestStore(t, clockwork.NewRealClock())
	err := s.ChangePassword(context.Background(), "admin", "changeme", "short")
	require.Error(t, err)
}
