package session

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxNameLength bounds session names. The name doubles as the server-side
// session name and appears in every REST path.
const MaxNameLength = 64

// ErrInvalidName is returned by ValidateName.
var ErrInvalidName = errors.New("invalid session name")

var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that name is lowercase letters, digits, '-' and '_',
// starts with a letter or digit and fits MaxNameLength.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidName)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: %q is longer than %d characters", ErrInvalidName, name, MaxNameLength)
	case !nameRegexp.MatchString(name):
		return fmt.Errorf("%w: %q (use a-z, 0-9, '-' and '_', starting with a letter or digit)", ErrInvalidName, name)
	}
	return nil
}
