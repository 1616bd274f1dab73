package store

import (
	"errors"
	"strings"
)

// ErrUnknownRole is returned by ParseRole for names outside the closed set.
var ErrUnknownRole = errors.New("store: unknown role")

// Role is the closed set of platform roles.
type Role uint8

const (
	// RoleUnknown is the zero value and never passes a guard.
	RoleUnknown Role = iota
	RoleAdmin
	RoleAdopter
	RoleSponsor
)

var roleNames = [...]string{
	RoleUnknown: "",
	RoleAdmin:   "admin",
	RoleAdopter: "adopter",
	RoleSponsor: "sponsor",
}

// String returns the wire name of r.
func (r Role) String() string {
	if int(r) >= len(roleNames) {
		return ""
	}
	return roleNames[r]
}

// Valid reports whether r is one of the named roles.
func (r Role) Valid() bool {
	return r > RoleUnknown && int(r) < len(roleNames)
}

// ParseRole maps a wire name to a Role. Matching is case-insensitive.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "admin":
		return RoleAdmin, nil
	case "adopter":
		return RoleAdopter, nil
	case "sponsor":
		return RoleSponsor, nil
	default:
		return RoleUnknown, ErrUnknownRole
	}
}
