package guesttoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Resource is a dashboard resource granted by a guest token
type Resource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// RLSRule is a row level security clause baked into a guest token
type RLSRule struct {
	Clause    string `json:"clause"`
	DatasetID *int   `json:"dataset,omitempty"`
}

// GuestUser is the synthetic user a guest token was issued for
type GuestUser struct {
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Claims are the Superset guest token claims
type Claims struct {
	User      GuestUser  `json:"user"`
	Resources []Resource `json:"resources"`
	RLSRules  []RLSRule  `json:"rls_rules"`
	Type      string     `json:"type"`
	jwt.RegisteredClaims
}

// ExpiresIn reports the remaining lifetime relative to now, or zero when the token has no exp claim
func (c *Claims) ExpiresIn(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Sub(now)
}

// Inspect decodes a guest token without verifying its signature.
// The token is only displayed; its expiry is never enforced here.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("failed to decode guest token: %w", err)
	}
	return claims, nil
}
