package engine

import "errors"

// SQLExecutionError is the only error kind surfaced by backends. Message is the
// diagnostic from the driver or the external SQL client; it is not interpreted.
type SQLExecutionError struct {
	Message string
	Err     error
}

func (e *SQLExecutionError) Error() string { return e.Message }

func (e *SQLExecutionError) Unwrap() error { return e.Err }

// NewSQLExecutionError builds an error carrying msg with no underlying cause.
func NewSQLExecutionError(msg string) *SQLExecutionError {
	return &SQLExecutionError{Message: msg}
}

// WrapSQL turns a driver error into a *SQLExecutionError. Nil stays nil and an
// error that already is one is returned as is.
func WrapSQL(err error) error {
	if err == nil {
		return nil
	}
	var se *SQLExecutionError
	if errors.As(err, &se) {
		return err
	}
	return &SQLExecutionError{Message: err.Error(), Err: err}
}

// IsSQLExecutionError reports whether err is or wraps a *SQLExecutionError.
func IsSQLExecutionError(err error) bool {
	var se *SQLExecutionError
	return errors.As(err, &se)
}
