package auth

import (
	"fmt"
	"strings"

	"resitrack.org/internal/permission"
)

// Session is the authenticated user with permissions resolved once.
type Session struct {
	Username    string
	Service     string
	Permissions permission.Resolver
}

// NewSession resolves snap for the given user.
func NewSession(username, service string, snap permission.Snapshot) Session {
	return Session{
		Username:    strings.TrimSpace(username),
		Service:     strings.TrimSpace(service),
		Permissions: permission.Resolve(snap),
	}
}

// Can reports whether the session holds key.
func (s Session) Can(key permission.Key) bool {
	return s.Permissions.Can(key)
}

// Require returns ErrForbidden wrapped with the key name when key is missing.
func (s Session) Require(key permission.Key) error {
	if s.Can(key) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, key)
}

// IsInService compares name with the session's service.
func (s Session) IsInService(name string) bool {
	return s.Service == name
}
