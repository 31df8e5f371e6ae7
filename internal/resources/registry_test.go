package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/shared"
)

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()

	meta, err := registry.Lookup(acl.ResourceAgent)
	require.NoError(t, err)
	assert.Equal(t, "agents", meta.Table)
	assert.Equal(t, "agent_viewer", meta.DefaultViewerRole)
	assert.Equal(t, "agent_owner", meta.DefaultOwnerRole)
	assert.Equal(t, "Agent", meta.DisplayName())

	meta, err = registry.Lookup(acl.ResourcePromptGroup)
	require.NoError(t, err)
	assert.Equal(t, "Prompt Group", meta.DisplayName())

	_, err = registry.Lookup("conversation")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRegistryTypes(t *testing.T) {
	registry := NewRegistry()
	assert.Equal(t, []acl.ResourceType{acl.ResourceAgent, acl.ResourcePromptGroup}, registry.Types())
}

func TestHookDispatcherRunsAllHooks(t *testing.T) {
	dispatcher := NewHookDispatcher(nil)
	var calls []string
	dispatcher.OnDeleted(func(ctx context.Context, ref acl.ResourceRef) error {
		calls = append(calls, "first:"+ref.ID)
		return errors.New("boom")
	})
	dispatcher.OnDeleted(func(ctx context.Context, ref acl.ResourceRef) error {
		calls = append(calls, "second:"+ref.ID)
		return nil
	})

	dispatcher.ResourceDeleted(context.Background(), acl.ResourceRef{Type: acl.ResourceAgent, ID: "a1"})
	assert.Equal(t, []string{"first:a1", "second:a1"}, calls, "a failing hook must not stop the rest")
}
