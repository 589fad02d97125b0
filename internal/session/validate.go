package session

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidUsername rejects localparts the server would refuse.
var ErrInvalidUsername = errors.New("invalid username")

var usernameRegexp = regexp.MustCompile(`^[a-z0-9._-]{1,64}$`)

// ValidateUsername checks a localpart before in-band registration.
func ValidateUsername(name string) error {
	if !usernameRegexp.MatchString(name) {
		return fmt.Errorf("%w %q: must match ^[a-z0-9._-]{1,64}$", ErrInvalidUsername, name)
	}
	return nil
}
