package acl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parley-chat/parley/internal/shared"
)

// ViewerRoleID returns the default viewer role identifier for a type.
func ViewerRoleID(t ResourceType) string { return string(t) + "_viewer" }

// EditorRoleID returns the default editor role identifier for a type.
func EditorRoleID(t ResourceType) string { return string(t) + "_editor" }

// OwnerRoleID returns the default owner role identifier for a type.
func OwnerRoleID(t ResourceType) string { return string(t) + "_owner" }

// DefaultRoleSet builds the viewer/editor/owner roles for one resource type.
func DefaultRoleSet(t ResourceType) []AccessRole {
	return []AccessRole{
		{
			RoleID:       ViewerRoleID(t),
			Name:         "Viewer",
			Description:  "Can view the resource",
			ResourceType: t,
			PermBits:     PermView,
		},
		{
			RoleID:       EditorRoleID(t),
			Name:         "Editor",
			Description:  "Can view and edit the resource",
			ResourceType: t,
			PermBits:     Combine(PermView, PermEdit),
		},
		{
			RoleID:       OwnerRoleID(t),
			Name:         "Owner",
			Description:  "Full control over the resource",
			ResourceType: t,
			PermBits:     Combine(PermView, PermEdit, PermDelete, PermShare),
		},
	}
}

// RoleRegistry holds the access-role reference set. The snapshot is
// populated by SeedDefaultRoles at startup and only replaced wholesale by
// Refresh; lookups never mutate shared state.
type RoleRegistry struct {
	repo RepositoryPort

	mu       sync.RWMutex
	snapshot map[string]AccessRole
}

// NewRoleRegistry constructs a registry over the given store.
func NewRoleRegistry(repo RepositoryPort) *RoleRegistry {
	return &RoleRegistry{repo: repo, snapshot: map[string]AccessRole{}}
}

// SeedDefaultRoles idempotently ensures the viewer/editor/owner matrix
// exists for every given resource type, then loads the snapshot. A failure
// here is fatal for the caller: the service must not answer authorization
// requests without a complete role set.
func (g *RoleRegistry) SeedDefaultRoles(ctx context.Context, types ...ResourceType) error {
	for _, t := range types {
		for _, role := range DefaultRoleSet(t) {
			if err := g.repo.EnsureRole(ctx, role); err != nil {
				return fmt.Errorf("acl: seed role %s: %w", role.RoleID, err)
			}
		}
	}
	if err := g.Refresh(ctx); err != nil {
		return err
	}
	for _, t := range types {
		if err := g.verifyRoleSet(t); err != nil {
			return err
		}
	}
	return nil
}

// Refresh replaces the snapshot from the store. Callable at runtime after
// administrative role changes.
func (g *RoleRegistry) Refresh(ctx context.Context) error {
	roles, err := g.repo.ListRoles(ctx)
	if err != nil {
		return fmt.Errorf("acl: load roles: %w", err)
	}
	snapshot := make(map[string]AccessRole, len(roles))
	for _, role := range roles {
		snapshot[role.RoleID] = role
	}
	g.mu.Lock()
	g.snapshot = snapshot
	g.mu.Unlock()
	return nil
}

// FindRoleByIdentifier looks up a role in the snapshot.
func (g *RoleRegistry) FindRoleByIdentifier(roleID string) (AccessRole, error) {
	g.mu.RLock()
	role, ok := g.snapshot[roleID]
	g.mu.RUnlock()
	if !ok {
		return AccessRole{}, fmt.Errorf("acl: role %q: %w", roleID, shared.ErrNotFound)
	}
	return role, nil
}

// Snapshot returns a copy of every role currently loaded, sorted by role ID.
func (g *RoleRegistry) Snapshot() []AccessRole {
	g.mu.RLock()
	roles := make([]AccessRole, 0, len(g.snapshot))
	for _, role := range g.snapshot {
		roles = append(roles, role)
	}
	g.mu.RUnlock()
	sort.Slice(roles, func(i, j int) bool { return roles[i].RoleID < roles[j].RoleID })
	return roles
}

func (g *RoleRegistry) verifyRoleSet(t ResourceType) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, required := range []string{ViewerRoleID(t), OwnerRoleID(t)} {
		if _, ok := g.snapshot[required]; !ok {
			return fmt.Errorf("%w: resource type %s is missing role %s", shared.ErrConfig, t, required)
		}
	}
	return nil
}
