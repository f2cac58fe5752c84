// Package audit keeps an in-memory trail of engine mutations and decisions.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/access-engine/internal/models"
)

// Action names recorded by the engine.
const (
	ActionTemplateCreated  = "template_created"
	ActionInheritanceSet   = "inheritance_set"
	ActionRuleAdded        = "validation_rule_added"
	ActionRequestCreated   = "request_created"
	ActionRequestApproved  = "request_approved"
	ActionRequestRejected  = "request_rejected"
	ActionElevatedGranted  = "elevated_granted"
	ActionEmergencyGranted = "emergency_granted"
	ActionAccessRevoked    = "access_revoked"
	ActionTokenIssued      = "token_issued"
	ActionPermissionCheck  = "permission_check"
)

// maxEntries bounds the in-memory trail; the oldest half is dropped when the
// cap is hit. The structured log stream is the durable record.
const maxEntries = 10000

// Log records access events.
type Log struct {
	mu      sync.RWMutex
	entries []models.AuditEntry
	logger  zerolog.Logger
}

// NewLog creates an empty audit log.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{
		entries: make([]models.AuditEntry, 0, 1000),
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Record appends an entry, assigning its ID and timestamp.
func (l *Log) Record(entry models.AuditEntry) {
	entry.ID = uuid.New().String()
	entry.Timestamp = time.Now().UTC()

	l.mu.Lock()
	if len(l.entries) >= maxEntries {
		l.entries = append(l.entries[:0], l.entries[maxEntries/2:]...)
	}
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Info().
		Str("user_id", entry.UserID).
		Str("action", entry.Action).
		Str("resource", entry.Resource).
		Str("result", entry.Result).
		Msg("audit event")
}

// Entries returns entries newest first, optionally filtered by user.
// A zero or negative limit means no limit.
func (l *Log) Entries(userID string, limit int) []models.AuditEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 {
		limit = len(l.entries)
	}

	var out []models.AuditEntry
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if userID == "" || l.entries[i].UserID == userID {
			out = append(out, l.entries[i])
		}
	}
	return out
}

// Count returns the number of retained entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
