// Package auth carries the authenticated caller through each request as an
// explicit value. Nothing in the engine reads identity from globals.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Role of an authenticated principal
type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
	RoleAdmin    Role = "admin"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrInvalidRole     = errors.New("invalid role")
)

// Principal is the authenticated caller of a single request
type Principal struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// Is reports whether the principal has the given role
func (p Principal) Is(role Role) bool {
	return p.Role == role
}

// ParseRole validates a role name
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleCustomer, RoleVendor, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// HeaderAuthenticator resolves the principal from headers set by the
// identity gateway in front of this service
type HeaderAuthenticator struct {
	PrincipalHeader string
	RoleHeader      string
}

// NewHeaderAuthenticator creates a header-based authenticator
func NewHeaderAuthenticator(principalHeader, roleHeader string) *HeaderAuthenticator {
	return &HeaderAuthenticator{
		PrincipalHeader: principalHeader,
		RoleHeader:      roleHeader,
	}
}

// Authenticate returns the principal for a request
func (a *HeaderAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	rawID := r.Header.Get(a.PrincipalHeader)
	if rawID == "" {
		return Principal{}, ErrUnauthenticated
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: malformed principal id", ErrUnauthenticated)
	}

	role, err := ParseRole(r.Header.Get(a.RoleHeader))
	if err != nil {
		return Principal{}, err
	}

	return Principal{ID: id, Role: role}, nil
}
