package auth

import "errors"

var (
	// ErrMissingToken is returned when a request carries no access token.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned when an access token fails verification or validation.
	ErrInvalidToken = errors.New("invalid token")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
