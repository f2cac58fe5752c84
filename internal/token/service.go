// Package token issues and validates opaque bearer tokens carrying frozen
// permission snapshots. Tokens live only in memory; a restart invalidates
// every outstanding token.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/errors"
	"github.com/p-blackswan/access-engine/internal/models"
)

// DefaultTTL applies when the caller does not supply a lifetime.
const DefaultTTL = time.Hour

// Service owns all issued tokens.
type Service struct {
	mu     sync.RWMutex
	tokens map[string]*models.AccessToken
	logger zerolog.Logger
}

// NewService creates an empty token service.
func NewService(logger zerolog.Logger) *Service {
	return &Service{
		tokens: make(map[string]*models.AccessToken),
		logger: logger.With().Str("component", "token_service").Logger(),
	}
}

// Issue mints a token freezing the given permission snapshot. The snapshot is
// never re-derived; later grant changes do not affect outstanding tokens.
func (s *Service) Issue(userID string, perms models.PermissionSet, ttl time.Duration) (*models.AccessToken, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating token: %w", err)
	}

	now := time.Now().UTC()
	tok := &models.AccessToken{
		Token:       hex.EncodeToString(raw),
		UserID:      userID,
		Permissions: perms.Clone(),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		LastUsed:    now,
	}

	s.mu.Lock()
	s.tokens[tok.Token] = tok
	s.mu.Unlock()

	s.logger.Info().
		Str("user_id", userID).
		Time("expires_at", tok.ExpiresAt).
		Msg("access token issued")

	return copyToken(tok), nil
}

// Validate looks a token up and bumps its last-used timestamp. An expired
// token is deleted on sight and reported as expired; validating it again
// reports not found.
func (s *Service) Validate(value string) (*models.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, ok := s.tokens[value]
	if !ok {
		return nil, errors.ErrTokenNotFound
	}
	if !tok.ExpiresAt.After(time.Now()) {
		delete(s.tokens, value)
		return nil, errors.ErrTokenExpired
	}

	tok.LastUsed = time.Now().UTC()
	return copyToken(tok), nil
}

// Revoke deletes a token. Revoking an unknown token is not an error.
func (s *Service) Revoke(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[value]; ok {
		delete(s.tokens, value)
		s.logger.Info().Msg("access token revoked")
	}
}

// RevokeUser deletes every token the user holds and returns how many.
func (s *Service) RevokeUser(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for value, tok := range s.tokens {
		if tok.UserID == userID {
			delete(s.tokens, value)
			revoked++
		}
	}
	if revoked > 0 {
		s.logger.Info().Str("user_id", userID).Int("revoked", revoked).Msg("user tokens revoked")
	}
	return revoked
}

// Cleanup removes expired tokens and returns how many were dropped.
func (s *Service) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for value, tok := range s.tokens {
		if !tok.ExpiresAt.After(now) {
			delete(s.tokens, value)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("expired tokens cleaned up")
	}
	return removed
}

// Count returns the number of stored tokens, expired ones included.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}

func copyToken(tok *models.AccessToken) *models.AccessToken {
	cp := *tok
	cp.Permissions = tok.Permissions.Clone()
	return &cp
}
