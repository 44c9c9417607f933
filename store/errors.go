package store

import (
	"errors"
	"io/fs"
)

var (
	ErrUnknownField    = errors.New("store: unknown field")
	ErrNegativeReading = errors.New("store: negative reading")
	ErrNotFinite       = errors.New("store: reading is not a finite number")
)

// FieldError records a failed read or write of one field's file.
type FieldError struct {
	Field Field
	Op    string // "read" or "write"
	Path  string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Path == "" {
		return "store: " + e.Op + " " + e.Field.String() + ": " + e.Err.Error()
	}
	return "store: " + e.Op + " " + e.Field.String() + " (" + e.Path + "): " + e.Err.Error()
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a field holds a value that cannot be parsed
// into the field's type.
type ParseError struct {
	Field Field
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return "store: parse " + e.Field.String() + " " + quote(e.Value) + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsMissing reports whether err means the field's file does not exist.
func IsMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func quote(s string) string {
	const maxLen = 32
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return "\"" + s + "\""
}
