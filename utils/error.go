// Package utils holds small helpers shared by the HTTP surfaces.
package utils

// StatusError pairs an error with the HTTP status code a handler should
// answer with. Handlers recover it with errors.As and fall back to 500
// when a plain error reaches them.
type StatusError struct {
	error
	status int
}

// Status returns the HTTP status code carried by the error.
func (se StatusError) Status() int {
	return se.status
}

// NewStatusError wraps err with the given status code.
func NewStatusError(err error, s int) error {
	return StatusError{error: err, status: s}
}
