package usermanager

import "errors"

// Standard user manager errors. Command handlers check them with errors.Is
// and map them to FTP replies.
var (
	// ErrAuthenticationFailed indicates wrong credentials, an unknown user or
	// a disabled account. The cause is deliberately not distinguished.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidUser indicates a user record failed validation on save.
	ErrInvalidUser = errors.New("invalid user")

	// ErrReadOnly indicates the store cannot persist changes.
	ErrReadOnly = errors.New("user store is read-only")
)
