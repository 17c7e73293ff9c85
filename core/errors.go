package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

// Unwrap returns the underlying error, if any.
func (err ValidationError) Unwrap() error {
	return err.Err
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
