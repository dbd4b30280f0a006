package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownRole        = errors.New("unknown role")
	ErrUserExists         = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
)

// Role is a caller privilege level.
type Role string

const (
	RoleAdmin    Role = "Admin"
	RoleCustomer Role = "Customer"
)

func (r Role) String() string {
	return string(r)
}

// ParseRole maps a stored role name onto the known roles.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleCustomer:
		return RoleCustomer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

type RoleSet map[Role]struct{}

func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Slice returns the roles in a stable order.
func (s RoleSet) Slice() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Identity is an authenticated account, before its roles are resolved.
type Identity struct {
	Username string
}

// Caller is an identity together with the roles it holds.
type Caller struct {
	Username string
	Roles    RoleSet
}

func (c Caller) IsAdmin() bool {
	return c.Roles.Has(RoleAdmin)
}

// Gate resolves the role set of an authenticated identity.
type Gate interface {
	Resolve(ctx context.Context, id Identity) (Caller, error)
}

// Authenticator verifies presented credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (Identity, error)
}
