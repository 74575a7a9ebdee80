package model

import "errors"

// ValidationError marks a caller mistake: surfaced synchronously, never
// retried. Distinguished from provider and store errors, which flow into the
// job queue's retry path.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(msg string) error { return &ValidationError{Msg: msg} }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
