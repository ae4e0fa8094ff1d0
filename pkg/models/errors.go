package models

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures reported by the ingestion and query core
type ErrorKind string

const (
	ErrorKindParse             ErrorKind = "parse"
	ErrorKindUnsupportedFormat ErrorKind = "unsupported_format"
	ErrorKindMaterialization   ErrorKind = "materialization"
	ErrorKindValidation        ErrorKind = "validation"
	ErrorKindNotFound          ErrorKind = "not_found"
	ErrorKindPersistence       ErrorKind = "persistence"
)

// Error is a categorized error carrying a human-readable message and optional cause
type Error struct {
	Kind    ErrorKind      `json:"kind"`
	Message string         `json:"message"`
	Cause   error          `json:"-"`
	Context map[string]any `json:"context,omitempty"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair describing the failure
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewError creates a categorized error
func NewError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a categorized error around an existing cause
func WrapError(err error, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

func NewParseError(format string, args ...any) *Error {
	return NewError(ErrorKindParse, format, args...)
}

func NewUnsupportedFormatError(format string, args ...any) *Error {
	return NewError(ErrorKindUnsupportedFormat, format, args...)
}

func NewValidationError(format string, args ...any) *Error {
	return NewError(ErrorKindValidation, format, args...)
}

func NewNotFoundError(format string, args ...any) *Error {
	return NewError(ErrorKindNotFound, format, args...)
}

// KindOf returns the kind of the first categorized error in the chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
