package broker

import "errors"

var (
	// ErrUnauthorized means the session token or broker token was refused.
	ErrUnauthorized = errors.New("broker: unauthorized")
	// ErrNotLinked means the account has no broker link on the backend.
	ErrNotLinked = errors.New("broker: account not linked")
)

// IsAuthError reports whether err should demote the link to unlinked.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotLinked)
}
