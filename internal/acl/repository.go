package acl

import "context"

// RepositoryPort defines persistence for grants and roles. Upserts rely on
// the store's atomic insert-or-update by natural key so concurrent grants to
// the same (principal, resource) converge without in-process locking.
type RepositoryPort interface {
	// UpsertEntry inserts the entry or replaces the existing one under the
	// same natural key.
	UpsertEntry(ctx context.Context, entry Entry) error
	// DeleteEntry removes the matching entry, reporting whether one existed.
	DeleteEntry(ctx context.Context, principal Principal, resourceType ResourceType, resourceID string) (bool, error)
	// ListEffectiveEntries returns every entry on the given resources that
	// applies to the principal: its own identity, any of the supplied group
	// IDs, and the public entry.
	ListEffectiveEntries(ctx context.Context, resourceType ResourceType, resourceIDs []string, principal Principal, groupIDs []string) ([]Entry, error)
	// DeleteResourceEntries removes all entries for a resource and returns
	// the number deleted. Used by the resource-deleted hook.
	DeleteResourceEntries(ctx context.Context, resourceType ResourceType, resourceID string) (int64, error)

	// EnsureRole inserts the role if absent; existing roles are left as-is.
	EnsureRole(ctx context.Context, role AccessRole) error
	// ListRoles returns all roles ordered by role ID.
	ListRoles(ctx context.Context) ([]AccessRole, error)
}

// UncoveredResource is a resource of a given type with no user-principal
// entry, as reported by the migration scan.
type UncoveredResource struct {
	ID       string
	AuthorID string
	Global   bool
}

// ResourceScanner lists resources lacking ACL coverage. Implemented by the
// resource directory, which owns the per-type tables.
type ResourceScanner interface {
	ListUncovered(ctx context.Context, resourceType ResourceType) ([]UncoveredResource, error)
}

// GroupResolver supplies the group IDs a user belongs to. Owned by the
// identity layer.
type GroupResolver interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}
