package domain

import "errors"

var (
	// ErrNotFound is returned for operations on a subject or hwid that has
	// no live record.
	ErrNotFound = errors.New("license not found")

	// ErrInvalidTTL is returned when an issue or renew duration is not
	// strictly positive.
	ErrInvalidTTL = errors.New("ttl must be positive")

	// ErrRateLimited is returned when a subject has exhausted its daily IP
	// reset allowance.
	ErrRateLimited = errors.New("daily reset limit reached")
)
