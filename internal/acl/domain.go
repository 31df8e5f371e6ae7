package acl

import "time"

// ResourceType identifies a class of shareable resources ("agent",
// "prompt_group"). The ACL core treats the set as open; per-type metadata
// lives in the resource directory.
type ResourceType string

const (
	// ResourceAgent is a configurable chat agent.
	ResourceAgent ResourceType = "agent"
	// ResourcePromptGroup is a group of prompt versions.
	ResourcePromptGroup ResourceType = "prompt_group"
)

// AccessRole is a named, resource-type-scoped bundle of permission bits.
// Roles are static reference data: seeded once at startup and read
// thereafter via the in-process snapshot.
type AccessRole struct {
	RoleID       string
	Name         string
	Description  string
	ResourceType ResourceType
	PermBits     PermBits
}

// Entry is a persisted grant binding a principal to a resource. At most one
// entry exists per (principal type, principal ID, resource type, resource
// ID); re-grants upsert in place.
type Entry struct {
	PrincipalType  PrincipalKind
	PrincipalID    string // empty for public
	PrincipalModel string // backing table of the principal, empty for public
	ResourceType   ResourceType
	ResourceID     string
	PermBits       PermBits
	RoleID         string // empty for raw-bitmask grants
	GrantedBy      string
	GrantedAt      time.Time
}

// GrantRequest describes a role-based grant.
type GrantRequest struct {
	Principal    Principal
	ResourceType ResourceType
	ResourceID   string
	RoleID       string
	GrantedBy    string
}

// GrantBitsRequest describes a direct grant carrying a raw bitmask and no
// role reference.
type GrantBitsRequest struct {
	Principal    Principal
	ResourceType ResourceType
	ResourceID   string
	PermBits     PermBits
	GrantedBy    string
}

// RevokeRequest identifies the entry to remove. Revoking a missing entry is
// a no-op.
type RevokeRequest struct {
	Principal    Principal
	ResourceType ResourceType
	ResourceID   string
}

// Check is one item of a batch access check.
type Check struct {
	ResourceType ResourceType
	ResourceID   string
	Required     PermBits
}

// ResourceRef names a resource for cache invalidation and cascade deletes.
type ResourceRef struct {
	Type ResourceType
	ID   string
}
