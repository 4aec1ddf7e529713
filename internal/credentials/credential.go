// Package credentials provides the login credential working set shared by
// virtual user sessions.
package credentials

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptySource is returned when a credential source holds no records.
	ErrEmptySource = errors.New("credentials: source is empty")

	// ErrMalformed is returned when a credential record cannot be parsed.
	ErrMalformed = errors.New("credentials: malformed record")

	// ErrUnknownLease is returned when releasing a lease that is not outstanding.
	ErrUnknownLease = errors.New("credentials: lease is not outstanding")
)

// Credential is an immutable username/password pair.
type Credential struct {
	Username string
	Password string
}

// String returns the username only; passwords never reach logs.
func (c Credential) String() string {
	return c.Username
}

// MalformedError describes a rejected record of a credential source.
type MalformedError struct {
	Line   int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("credentials: malformed record at line %d: %s", e.Line, e.Reason)
	}
	return fmt.Sprintf("credentials: malformed record: %s", e.Reason)
}

// Unwrap lets errors.Is match ErrMalformed.
func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}
