// Package grant manages base permission maps plus time-boxed elevated and
// break-glass emergency grants.
package grant

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/models"
)

// DefaultElevatedTTL applies when the caller does not supply a duration.
const DefaultElevatedTTL = 24 * time.Hour

// EmergencyWindow is the non-negotiable break-glass expiry. Caller-supplied
// durations are ignored.
const EmergencyWindow = 4 * time.Hour

// Store owns the per-user base permission map and all live grants.
type Store struct {
	mu        sync.RWMutex
	base      map[string]models.PermissionSet     // user → component → levels
	elevated  map[string]*models.ElevatedAccess   // grant ID → grant
	emergency map[string]*models.EmergencyAccess  // grant ID → grant
	logger    zerolog.Logger
}

// NewStore creates an empty grant store.
func NewStore(logger zerolog.Logger) *Store {
	return &Store{
		base:      make(map[string]models.PermissionSet),
		elevated:  make(map[string]*models.ElevatedAccess),
		emergency: make(map[string]*models.EmergencyAccess),
		logger:    logger.With().Str("component", "grant_store").Logger(),
	}
}

// GrantBase unions permissions into the user's base map. validityDays is
// recorded for the audit trail but base grants do not self-expire; they last
// until explicitly revoked.
func (s *Store) GrantBase(userID string, perms models.PermissionSet, validityDays int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.base[userID]
	if !ok {
		existing = make(models.PermissionSet)
		s.base[userID] = existing
	}
	existing.Union(perms)

	s.logger.Info().
		Str("user_id", userID).
		Int("components", len(perms)).
		Int("validity_days", validityDays).
		Msg("base permissions granted")
}

// Elevated issues a time-boxed grant, active immediately.
func (s *Store) Elevated(userID string, perms models.PermissionSet, grantedBy, reason string, duration time.Duration) *models.ElevatedAccess {
	if duration <= 0 {
		duration = DefaultElevatedTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	grant := &models.ElevatedAccess{
		ID:          uuid.New().String(),
		UserID:      userID,
		Permissions: perms.Clone(),
		GrantedBy:   grantedBy,
		Reason:      reason,
		GrantedAt:   now,
		ExpiresAt:   now.Add(duration),
	}
	s.elevated[grant.ID] = grant

	s.logger.Info().
		Str("grant_id", grant.ID).
		Str("user_id", userID).
		Str("granted_by", grantedBy).
		Time("expires_at", grant.ExpiresAt).
		Msg("elevated access granted")

	return copyElevated(grant)
}

// Emergency activates a break-glass grant. Approvals are collected out of
// band before the call; the four-hour window is fixed.
func (s *Store) Emergency(userID string, perms models.PermissionSet, reason string, approvers []string) *models.EmergencyAccess {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	grant := &models.EmergencyAccess{
		ID:          uuid.New().String(),
		UserID:      userID,
		Permissions: perms.Clone(),
		ApprovedBy:  append([]string(nil), approvers...),
		Reason:      reason,
		ActivatedAt: now,
		ExpiresAt:   now.Add(EmergencyWindow),
	}
	s.emergency[grant.ID] = grant

	s.logger.Warn().
		Str("grant_id", grant.ID).
		Str("user_id", userID).
		Strs("approved_by", approvers).
		Time("expires_at", grant.ExpiresAt).
		Msg("emergency access activated")

	return copyEmergency(grant)
}

// Revoke removes the component from the user's base map and purges every
// elevated and emergency grant the user holds, whatever components those
// grants cover. Any revocation fully de-escalates the user.
func (s *Store) Revoke(userID, component string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if perms, ok := s.base[userID]; ok {
		delete(perms, component)
	}

	purged := 0
	for id, g := range s.elevated {
		if g.UserID == userID {
			delete(s.elevated, id)
			purged++
		}
	}
	for id, g := range s.emergency {
		if g.UserID == userID {
			delete(s.emergency, id)
			purged++
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("component", component).
		Int("grants_purged", purged).
		Msg("access revoked")
}

// UserPermissions returns a copy of the user's base permission map.
func (s *Store) UserPermissions(userID string) models.PermissionSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perms, ok := s.base[userID]
	if !ok {
		return models.PermissionSet{}
	}
	return perms.Clone()
}

// HasBase reports whether the user's base map holds level on component.
func (s *Store) HasBase(userID, component string, level models.PermissionLevel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perms, ok := s.base[userID]
	return ok && perms.Contains(component, level)
}

// HasElevated reports whether a live elevated grant covers the level.
// Expired grants are skipped, not removed; the read path never mutates.
func (s *Store) HasElevated(userID, component string, level models.PermissionLevel, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.elevated {
		if g.UserID == userID && g.ExpiresAt.After(now) && g.Permissions.Contains(component, level) {
			return true
		}
	}
	return false
}

// HasEmergency reports whether a live emergency grant covers the level.
func (s *Store) HasEmergency(userID, component string, level models.PermissionLevel, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.emergency {
		if g.UserID == userID && g.ExpiresAt.After(now) && g.Permissions.Contains(component, level) {
			return true
		}
	}
	return false
}

// ActiveElevated returns copies of the user's unexpired elevated grants,
// oldest first.
func (s *Store) ActiveElevated(userID string, now time.Time) []*models.ElevatedAccess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ElevatedAccess
	for _, g := range s.elevated {
		if g.UserID == userID && g.ExpiresAt.After(now) {
			out = append(out, copyElevated(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out
}

// ActiveEmergency returns copies of the user's unexpired emergency grants,
// oldest first.
func (s *Store) ActiveEmergency(userID string, now time.Time) []*models.EmergencyAccess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EmergencyAccess
	for _, g := range s.emergency {
		if g.UserID == userID && g.ExpiresAt.After(now) {
			out = append(out, copyEmergency(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.Before(out[j].ActivatedAt) })
	return out
}

// Cleanup removes expired elevated and emergency grants and returns how many
// were dropped. Only the maintenance sweep calls this.
func (s *Store) Cleanup(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, g := range s.elevated {
		if !g.ExpiresAt.After(now) {
			delete(s.elevated, id)
			removed++
		}
	}
	for id, g := range s.emergency {
		if !g.ExpiresAt.After(now) {
			delete(s.emergency, id)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("expired grants cleaned up")
	}
	return removed
}

// ElevatedCount returns the number of stored elevated grants.
func (s *Store) ElevatedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.elevated)
}

// EmergencyCount returns the number of stored emergency grants.
func (s *Store) EmergencyCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.emergency)
}

// SnapshotElevated returns the elevated grants for persistence.
func (s *Store) SnapshotElevated() map[string]*models.ElevatedAccess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.ElevatedAccess, len(s.elevated))
	for id, g := range s.elevated {
		out[id] = copyElevated(g)
	}
	return out
}

// SnapshotEmergency returns the emergency grants for persistence.
func (s *Store) SnapshotEmergency() map[string]*models.EmergencyAccess {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*models.EmergencyAccess, len(s.emergency))
	for id, g := range s.emergency {
		out[id] = copyEmergency(g)
	}
	return out
}

// Restore replaces the grant maps from persisted snapshots. The base map is
// not part of the durable snapshot set and is left untouched.
func (s *Store) Restore(elevated map[string]*models.ElevatedAccess, emergency map[string]*models.EmergencyAccess) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elevated = make(map[string]*models.ElevatedAccess, len(elevated))
	for id, g := range elevated {
		s.elevated[id] = g
	}
	s.emergency = make(map[string]*models.EmergencyAccess, len(emergency))
	for id, g := range emergency {
		s.emergency[id] = g
	}
}

func copyElevated(g *models.ElevatedAccess) *models.ElevatedAccess {
	cp := *g
	cp.Permissions = g.Permissions.Clone()
	return &cp
}

func copyEmergency(g *models.EmergencyAccess) *models.EmergencyAccess {
	cp := *g
	cp.Permissions = g.Permissions.Clone()
	cp.ApprovedBy = append([]string(nil), g.ApprovedBy...)
	return &cp
}
