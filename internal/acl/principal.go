package acl

import (
	"fmt"

	"github.com/parley-chat/parley/internal/shared"
)

// PrincipalKind discriminates the three supported principal variants.
type PrincipalKind string

const (
	// PrincipalUser is an individual user identified by its user ID.
	PrincipalUser PrincipalKind = "user"
	// PrincipalGroup is a named group identified by its group ID.
	PrincipalGroup PrincipalKind = "group"
	// PrincipalPublic is the anonymous principal. It carries no ID and at
	// most one public entry exists per resource.
	PrincipalPublic PrincipalKind = "public"
)

// Principal identifies the actor being authorized. Construct values through
// UserPrincipal, GroupPrincipal, or PublicPrincipal so the kind/ID pairing
// stays consistent.
type Principal struct {
	Kind PrincipalKind
	ID   string
}

// UserPrincipal returns a user principal for the given user ID.
func UserPrincipal(id string) Principal {
	return Principal{Kind: PrincipalUser, ID: id}
}

// GroupPrincipal returns a group principal for the given group ID.
func GroupPrincipal(id string) Principal {
	return Principal{Kind: PrincipalGroup, ID: id}
}

// PublicPrincipal returns the anonymous principal.
func PublicPrincipal() Principal {
	return Principal{Kind: PrincipalPublic}
}

// Model returns the backing table recorded on persisted grants for this
// principal kind, empty for public.
func (p Principal) Model() string {
	switch p.Kind {
	case PrincipalUser:
		return "users"
	case PrincipalGroup:
		return "groups"
	case PrincipalPublic:
		return ""
	default:
		return ""
	}
}

// Validate rejects malformed principals before any store access.
func (p Principal) Validate() error {
	switch p.Kind {
	case PrincipalUser, PrincipalGroup:
		if p.ID == "" {
			return fmt.Errorf("%w: %s principal requires an id", shared.ErrValidation, p.Kind)
		}
		return nil
	case PrincipalPublic:
		if p.ID != "" {
			return fmt.Errorf("%w: public principal must not carry an id", shared.ErrValidation)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown principal kind %q", shared.ErrValidation, p.Kind)
	}
}

func (p Principal) String() string {
	if p.Kind == PrincipalPublic {
		return "public"
	}
	return string(p.Kind) + ":" + p.ID
}
