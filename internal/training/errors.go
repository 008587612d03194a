package training

import "errors"

var (
	ErrValidation         = errors.New("invalid training request")
	ErrInsufficientCredit = errors.New("not enough credits")
	ErrProvider           = errors.New("training provider failed")
	ErrPersistence        = errors.New("persistence failed")
	ErrUnauthorized       = errors.New("unauthorized callback")
	ErrNotFound           = errors.New("tune not found")
	ErrNotReady           = errors.New("tune has not finished training")
)

// ValidationError carries a user-correctable message. It matches ErrValidation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
