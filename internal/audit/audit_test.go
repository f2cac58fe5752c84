package audit

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/access-engine/internal/models"
)

func TestLog_Record(t *testing.T) {
	l := NewLog(zerolog.Nop())

	l.Record(models.AuditEntry{
		UserID:   "alice",
		Action:   ActionTemplateCreated,
		Resource: "ops",
		Result:   "success",
	})

	entries := l.Entries("", 10)
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].Timestamp.IsZero())
	assert.Equal(t, ActionTemplateCreated, entries[0].Action)
}

func TestLog_Entries_NewestFirst(t *testing.T) {
	l := NewLog(zerolog.Nop())
	l.Record(models.AuditEntry{UserID: "alice", Action: "first"})
	l.Record(models.AuditEntry{UserID: "alice", Action: "second"})

	entries := l.Entries("alice", 10)
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Action)
	assert.Equal(t, "first", entries[1].Action)
}

func TestLog_Entries_FilterAndLimit(t *testing.T) {
	l := NewLog(zerolog.Nop())
	l.Record(models.AuditEntry{UserID: "alice", Action: "a"})
	l.Record(models.AuditEntry{UserID: "bob", Action: "b"})
	l.Record(models.AuditEntry{UserID: "alice", Action: "c"})

	assert.Len(t, l.Entries("alice", 10), 2)
	assert.Len(t, l.Entries("alice", 1), 1)
	assert.Len(t, l.Entries("", 0), 3)
	assert.Equal(t, 3, l.Count())
}
