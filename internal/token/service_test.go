package token

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/models"
)

func newTestService() *Service {
	return NewService(zerolog.Nop())
}

func readPerms() models.PermissionSet {
	return models.PermissionSet{"billing": {models.LevelRead}}
}

func TestService_Issue(t *testing.T) {
	s := newTestService()

	tok, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)

	assert.Len(t, tok.Token, 64) // 32 random bytes, hex encoded
	assert.Equal(t, "alice", tok.UserID)
	assert.WithinDuration(t, tok.CreatedAt.Add(time.Minute), tok.ExpiresAt, time.Second)
}

func TestService_Issue_DefaultTTL(t *testing.T) {
	s := newTestService()

	tok, err := s.Issue("alice", readPerms(), 0)
	require.NoError(t, err)
	assert.WithinDuration(t, tok.CreatedAt.Add(DefaultTTL), tok.ExpiresAt, time.Second)
}

func TestService_Issue_UniqueTokens(t *testing.T) {
	s := newTestService()

	a, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)
	b, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)
}

func TestService_Validate(t *testing.T) {
	s := newTestService()
	tok, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)

	got, err := s.Validate(tok.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.Permissions.Contains("billing", models.LevelRead))
	assert.False(t, got.LastUsed.Before(tok.LastUsed))
}

func TestService_Validate_NotFound(t *testing.T) {
	s := newTestService()

	_, err := s.Validate("nope")
	assert.ErrorIs(t, err, errors.ErrTokenNotFound)
}

func TestService_Validate_ExpiredThenGone(t *testing.T) {
	s := newTestService()
	tok, err := s.Issue("alice", readPerms(), time.Nanosecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	// First validation observes the expiry and deletes the token.
	_, err = s.Validate(tok.Token)
	assert.ErrorIs(t, err, errors.ErrTokenExpired)

	// Second validation no longer finds it.
	_, err = s.Validate(tok.Token)
	assert.ErrorIs(t, err, errors.ErrTokenNotFound)
}

func TestService_FrozenSnapshot(t *testing.T) {
	s := newTestService()
	perms := readPerms()
	tok, err := s.Issue("alice", perms, time.Minute)
	require.NoError(t, err)

	// Mutating the caller's map after issuance must not leak into the token.
	perms["billing"] = append(perms["billing"], models.LevelAdmin)

	got, err := s.Validate(tok.Token)
	require.NoError(t, err)
	assert.False(t, got.Permissions.Contains("billing", models.LevelAdmin))
}

func TestService_Revoke(t *testing.T) {
	s := newTestService()
	tok, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)

	s.Revoke(tok.Token)
	_, err = s.Validate(tok.Token)
	assert.ErrorIs(t, err, errors.ErrTokenNotFound)

	// Unknown token is a no-op.
	s.Revoke("nope")
}

func TestService_RevokeUser(t *testing.T) {
	s := newTestService()
	a, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)
	_, err = s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)
	b, err := s.Issue("bob", readPerms(), time.Minute)
	require.NoError(t, err)

	assert.Equal(t, 2, s.RevokeUser("alice"))
	_, err = s.Validate(a.Token)
	assert.ErrorIs(t, err, errors.ErrTokenNotFound)
	_, err = s.Validate(b.Token)
	assert.NoError(t, err)
}

func TestService_Cleanup(t *testing.T) {
	s := newTestService()
	_, err := s.Issue("alice", readPerms(), time.Minute)
	require.NoError(t, err)
	_, err = s.Issue("bob", readPerms(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Cleanup(time.Now().Add(30*time.Minute)))
	assert.Equal(t, 1, s.Count())
}
