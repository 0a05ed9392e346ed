// Package gate decides whether a session may see a route.
//
// Decisions are derived from a session snapshot and never stored. Callers
// must pass the snapshot read at decision time, not one captured earlier.
package gate

import (
	"net/url"

	"github.com/dashgate-dev/dashgate/internal/session"
)

// Client-side navigation paths
const (
	LoginPath     = "/login"
	FullPath      = "/dashboard/full"
	RLSPathPrefix = "/dashboard/rls/"
)

// RLSPath returns the manufacturer-scoped dashboard path for identity
func RLSPath(identity string) string {
	return RLSPathPrefix + url.PathEscape(identity)
}

// Requirement is attached to a navigable view. An empty RequiredRole admits any authenticated session.
type Requirement struct {
	RequiredRole session.Role
}

// Kind enumerates the possible access decisions
type Kind int

const (
	Allow Kind = iota
	RedirectToLogin
	RedirectTo
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case RedirectToLogin:
		return "redirect_to_login"
	case RedirectTo:
		return "redirect_to"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Decide. Path is set for RedirectToLogin and RedirectTo.
type Decision struct {
	Kind Kind
	Path string
}

// DefaultPath maps a session to its home view: admin to the full dashboard,
// a manufacturer to its own scoped dashboard, anything else to login.
func DefaultPath(s session.Session) string {
	switch {
	case s.Role == session.RoleAdmin:
		return FullPath
	case s.Role == session.RoleManufacturer && s.Identity != "":
		return RLSPath(s.Identity)
	default:
		return LoginPath
	}
}

// Decide maps a session snapshot and a route requirement to an access decision
func Decide(s session.Session, req Requirement, defaultPath func(session.Session) string) Decision {
	if !s.Authenticated {
		return Decision{Kind: RedirectToLogin, Path: LoginPath}
	}

	if req.RequiredRole != "" && s.Role != req.RequiredRole {
		return Decision{Kind: RedirectTo, Path: defaultPath(s)}
	}

	return Decision{Kind: Allow}
}

// DecideScoped applies Decide and additionally requires a manufacturer session
// to request its own scope; any other scope redirects to the session's default path.
func DecideScoped(s session.Session, req Requirement, scope string, defaultPath func(session.Session) string) Decision {
	d := Decide(s, req, defaultPath)
	if d.Kind != Allow {
		return d
	}

	if s.Role == session.RoleManufacturer && scope != s.Identity {
		return Decision{Kind: RedirectTo, Path: defaultPath(s)}
	}

	return d
}

// Landing resolves "/" and unmatched paths: the default path when authenticated, login otherwise
func Landing(s session.Session, defaultPath func(session.Session) string) string {
	if !s.Authenticated {
		return LoginPath
	}
	return defaultPath(s)
}
