package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindSurvivesWrapping(t *testing.T) {
	base := NewValidationError("unknown column %q", "price")
	wrapped := fmt.Errorf("failed to run query: %w", base)

	assert.Equal(t, ErrorKindValidation, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, ErrorKindValidation))
	assert.False(t, IsKind(wrapped, ErrorKindNotFound))
	assert.Contains(t, wrapped.Error(), `unknown column "price"`)
}

func TestWrapErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError(cause, ErrorKindPersistence, "failed to save dataset")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "persistence: failed to save dataset: disk full", err.Error())
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, ErrorKindParse))
}

func TestErrorWithContext(t *testing.T) {
	err := NewParseError("empty file").WithContext("filename", "a.csv")
	assert.Equal(t, "a.csv", err.Context["filename"])
}
