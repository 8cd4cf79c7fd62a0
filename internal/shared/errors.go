package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure. Callers must not leak
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
)
