package acl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/shared"
)

func TestSeedDefaultRolesIsIdempotent(t *testing.T) {
	repo := newMockRepo()
	registry := NewRoleRegistry(repo)
	ctx := context.Background()

	require.NoError(t, registry.SeedDefaultRoles(ctx, ResourceAgent))
	require.NoError(t, registry.SeedDefaultRoles(ctx, ResourceAgent))
	assert.Len(t, repo.roles, 3)

	role, err := registry.FindRoleByIdentifier(OwnerRoleID(ResourceAgent))
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermEdit, PermDelete, PermShare), role.PermBits)
	assert.Equal(t, ResourceAgent, role.ResourceType)
}

func TestSeedPreservesAdministrativeChanges(t *testing.T) {
	repo := newMockRepo()
	registry := NewRoleRegistry(repo)
	ctx := context.Background()

	// An operator previously widened the viewer role; re-seed must not
	// overwrite it.
	require.NoError(t, repo.EnsureRole(ctx, AccessRole{
		RoleID:       ViewerRoleID(ResourceAgent),
		Name:         "Viewer",
		ResourceType: ResourceAgent,
		PermBits:     Combine(PermView, PermShare),
	}))
	require.NoError(t, registry.SeedDefaultRoles(ctx, ResourceAgent))

	role, err := registry.FindRoleByIdentifier(ViewerRoleID(ResourceAgent))
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermShare), role.PermBits)
}

func TestFindRoleUnknownIsNotFound(t *testing.T) {
	repo := newMockRepo()
	registry := NewRoleRegistry(repo)
	require.NoError(t, registry.SeedDefaultRoles(context.Background(), ResourceAgent))

	_, err := registry.FindRoleByIdentifier("agent_admin")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRefreshPicksUpStoreChanges(t *testing.T) {
	repo := newMockRepo()
	registry := NewRoleRegistry(repo)
	ctx := context.Background()
	require.NoError(t, registry.SeedDefaultRoles(ctx, ResourceAgent))

	require.NoError(t, repo.EnsureRole(ctx, AccessRole{
		RoleID:       "agent_auditor",
		Name:         "Auditor",
		ResourceType: ResourceAgent,
		PermBits:     PermView,
	}))
	_, err := registry.FindRoleByIdentifier("agent_auditor")
	assert.ErrorIs(t, err, shared.ErrNotFound, "snapshot must not mutate lazily")

	require.NoError(t, registry.Refresh(ctx))
	role, err := registry.FindRoleByIdentifier("agent_auditor")
	require.NoError(t, err)
	assert.Equal(t, PermView, role.PermBits)
}
