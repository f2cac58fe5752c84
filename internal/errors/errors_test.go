package errors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistError_Error(t *testing.T) {
	err := NewPersistError("templates", "save", io.ErrClosedPipe)

	assert.Contains(t, err.Error(), "templates")
	assert.Contains(t, err.Error(), "save")
}

func TestPersistError_Unwrap(t *testing.T) {
	inner := io.ErrUnexpectedEOF
	err := NewPersistError("requests", "load", inner)

	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestIsPersist(t *testing.T) {
	err := NewPersistError("templates", "save", io.ErrClosedPipe)
	wrapped := fmt.Errorf("creating template: %w", err)

	assert.True(t, IsPersist(err))
	assert.True(t, IsPersist(wrapped))
	assert.False(t, IsPersist(ErrTemplateNotFound))
	assert.False(t, IsPersist(nil))
}

func TestSentinels_Distinct(t *testing.T) {
	assert.NotErrorIs(t, ErrTemplateNotFound, ErrRequestNotFound)
	assert.NotErrorIs(t, ErrDuplicateTemplate, ErrCircularInheritance)
}
