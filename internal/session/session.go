package session

import (
	"context"
	"errors"
	"fmt"
)

// Role identifies which dashboard view a session is entitled to
type Role string

const (
	RoleAdmin        Role = "admin"
	RoleManufacturer Role = "manufacturer"
)

// AdminIdentity is the identity conventionally recorded for the admin role
const AdminIdentity = "admin"

// KnownManufacturers are offered as username suggestions at login
var KnownManufacturers = []string{
	"Cipla Ltd",
	"Torrent Pharmaceuticals Ltd",
	"Sun Pharmaceutical Industries Ltd",
	"Intas Pharmaceuticals Ltd",
	"Lupin Ltd",
}

// ParseRole maps a backend user type to a Role
func ParseRole(userType string) (Role, error) {
	r := Role(userType)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, userType)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleManufacturer
}

var (
	ErrUnknownRole   = errors.New("unknown role")
	ErrEmptyIdentity = errors.New("identity is required")
)

// Session is the persisted authentication record.
// Authenticated is true exactly when Role and Identity are both set.
type Session struct {
	Authenticated bool   `json:"authenticated"`
	Role          Role   `json:"role,omitempty"`
	Identity      string `json:"identity,omitempty"`
}

// LoggedOut returns the fully logged-out session
func LoggedOut() Session {
	return Session{}
}

// LoggedIn builds an authenticated session, rejecting anything that would break the invariant
func LoggedIn(role Role, identity string) (Session, error) {
	if !role.Valid() {
		return LoggedOut(), fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	if identity == "" {
		return LoggedOut(), ErrEmptyIdentity
	}
	return Session{Authenticated: true, Role: role, Identity: identity}, nil
}

// normalize collapses any partially populated record to LoggedOut
func normalize(s Session) Session {
	if !s.Authenticated || !s.Role.Valid() || s.Identity == "" {
		return LoggedOut()
	}
	return s
}

// Store persists the session triple where other processes can see it.
// There is no locking between writers: the last write wins.
type Store interface {
	// Load never returns a partially populated session
	Load(ctx context.Context) (Session, error)
	// Save atomically persists authenticated=true, role and identity
	Save(ctx context.Context, role Role, identity string) error
	// Clear atomically removes the record
	Clear(ctx context.Context) error
	// Subscribe invokes onChange when the record is changed by another process
	Subscribe(ctx context.Context, onChange func(Session)) (func(), error)
}
