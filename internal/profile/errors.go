package profile

import "errors"

// Domain errors for the profile package.
var (
	// ErrProfileNotFound is returned when a profile ID does not exist.
	ErrProfileNotFound = errors.New("profile: not found")

	// ErrInvalidProfile is returned when a profile fails validation.
	ErrInvalidProfile = errors.New("profile: invalid")

	// ErrNoDefault is returned by GetDefault when no profile is the default.
	ErrNoDefault = errors.New("profile: no default profile")
)
