package core

import "errors"

var (
	// ErrInvalidInput is returned for missing or malformed caller input
	ErrInvalidInput = errors.New("invalid input")

	// ErrReauthRequired is returned when the mail provider rejects the bearer token
	ErrReauthRequired = errors.New("re-authentication required")

	// ErrNotFound is returned by repositories when no record exists
	ErrNotFound = errors.New("not found")
)
