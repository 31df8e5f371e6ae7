package aclhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/shared"
)

type memRepo struct {
	entries map[string]acl.Entry
	roles   map[string]acl.AccessRole
}

func newMemRepo() *memRepo {
	return &memRepo{entries: map[string]acl.Entry{}, roles: map[string]acl.AccessRole{}}
}

func entryKey(kind acl.PrincipalKind, principalID string, resourceType acl.ResourceType, resourceID string) string {
	return string(kind) + "|" + principalID + "|" + string(resourceType) + "|" + resourceID
}

func (m *memRepo) UpsertEntry(_ context.Context, entry acl.Entry) error {
	m.entries[entryKey(entry.PrincipalType, entry.PrincipalID, entry.ResourceType, entry.ResourceID)] = entry
	return nil
}

func (m *memRepo) DeleteEntry(_ context.Context, principal acl.Principal, resourceType acl.ResourceType, resourceID string) (bool, error) {
	key := entryKey(principal.Kind, principal.ID, resourceType, resourceID)
	if _, ok := m.entries[key]; !ok {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *memRepo) ListEffectiveEntries(_ context.Context, resourceType acl.ResourceType, resourceIDs []string, principal acl.Principal, groupIDs []string) ([]acl.Entry, error) {
	wanted := map[string]struct{}{}
	wanted[entryKey(principal.Kind, principal.ID, "", "")] = struct{}{}
	wanted[entryKey(acl.PrincipalPublic, "", "", "")] = struct{}{}
	for _, g := range groupIDs {
		wanted[entryKey(acl.PrincipalGroup, g, "", "")] = struct{}{}
	}
	var out []acl.Entry
	for _, id := range resourceIDs {
		for _, entry := range m.entries {
			if entry.ResourceType != resourceType || entry.ResourceID != id {
				continue
			}
			if _, ok := wanted[entryKey(entry.PrincipalType, entry.PrincipalID, "", "")]; ok {
				out = append(out, entry)
			}
		}
	}
	return out, nil
}

func (m *memRepo) DeleteResourceEntries(_ context.Context, resourceType acl.ResourceType, resourceID string) (int64, error) {
	var deleted int64
	for key, entry := range m.entries {
		if entry.ResourceType == resourceType && entry.ResourceID == resourceID {
			delete(m.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memRepo) EnsureRole(_ context.Context, role acl.AccessRole) error {
	if _, ok := m.roles[role.RoleID]; !ok {
		m.roles[role.RoleID] = role
	}
	return nil
}

func (m *memRepo) ListRoles(_ context.Context) ([]acl.AccessRole, error) {
	out := make([]acl.AccessRole, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	return out, nil
}

type staticResolver struct {
	groups map[string][]string
}

func (r *staticResolver) Resolve(_ context.Context, userID string) (acl.Principal, []string, error) {
	if userID == "" {
		return acl.PublicPrincipal(), nil, nil
	}
	return acl.UserPrincipal(userID), r.groups[userID], nil
}

type recordingEnqueuer struct {
	resourceType string
	batchSize    int
}

func (e *recordingEnqueuer) EnqueueACLMigrate(_ context.Context, resourceType string, batchSize int) (string, error) {
	e.resourceType = resourceType
	e.batchSize = batchSize
	return "task-1", nil
}

type fixture struct {
	repo     *memRepo
	service  *acl.Service
	enqueuer *recordingEnqueuer
	router   chi.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemRepo()
	registry := acl.NewRoleRegistry(repo)
	require.NoError(t, registry.SeedDefaultRoles(context.Background(), acl.ResourceAgent, acl.ResourcePromptGroup))
	service := acl.NewService(repo, registry, nil, nil, acl.ServiceConfig{})
	scanner := scannerFunc(func(context.Context, acl.ResourceType) ([]acl.UncoveredResource, error) {
		return nil, nil
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	migrator := acl.NewMigrator(service, scanner, logger, acl.MigratorConfig{})
	enqueuer := &recordingEnqueuer{}
	handler := NewHandler(logger, service, migrator, &staticResolver{groups: map[string][]string{}}, enqueuer, nil)
	router := chi.NewRouter()
	router.Route("/api/acl", handler.MountRoutes)
	return &fixture{repo: repo, service: service, enqueuer: enqueuer, router: router}
}

type scannerFunc func(ctx context.Context, resourceType acl.ResourceType) ([]acl.UncoveredResource, error)

func (f scannerFunc) ListUncovered(ctx context.Context, resourceType acl.ResourceType) ([]acl.UncoveredResource, error) {
	return f(ctx, resourceType)
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	sess := &shared.Session{}
	sess.SetUser(user)
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func grantOwner(t *testing.T, f *fixture, userID, resourceID string) {
	t.Helper()
	_, err := f.service.Grant(context.Background(), acl.GrantRequest{
		Principal:    acl.UserPrincipal(userID),
		ResourceType: acl.ResourceAgent,
		ResourceID:   resourceID,
		RoleID:       acl.OwnerRoleID(acl.ResourceAgent),
		GrantedBy:    userID,
	})
	require.NoError(t, err)
}

func TestCreateGrantRequiresShare(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")

	body := map[string]any{
		"principalType": "user",
		"principalId":   "friend",
		"resourceType":  "agent",
		"resourceId":    "a1",
		"roleId":        "agent_viewer",
	}

	rec := f.do(t, http.MethodPost, "/api/acl/grants", "stranger", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/acl/grants", "owner", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entry entryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, "agent_viewer", entry.RoleID)
	assert.Equal(t, []string{"view"}, entry.Permissions)
	assert.Equal(t, "owner", entry.GrantedBy)
}

func TestCreateGrantUnknownRole(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")

	rec := f.do(t, http.MethodPost, "/api/acl/grants", "owner", map[string]any{
		"principalType": "user",
		"principalId":   "friend",
		"resourceType":  "agent",
		"resourceId":    "a1",
		"roleId":        "agent_admin",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckEndpoint(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")

	rec := f.do(t, http.MethodPost, "/api/acl/check", "owner", map[string]any{
		"resourceType": "agent",
		"resourceId":   "a1",
		"permissions":  []string{"view", "edit"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp checkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)

	rec = f.do(t, http.MethodPost, "/api/acl/check", "stranger", map[string]any{
		"resourceType": "agent",
		"resourceId":   "a1",
		"permissions":  []string{"view"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed, "no permission is a normal false result")

	rec = f.do(t, http.MethodPost, "/api/acl/check", "owner", map[string]any{
		"resourceType": "agent",
		"resourceId":   "a1",
		"permissions":  []string{"fly"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckBatchEndpoint(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")

	rec := f.do(t, http.MethodPost, "/api/acl/check/batch", "owner", map[string]any{
		"checks": []map[string]any{
			{"resourceType": "agent", "resourceId": "a1", "permissions": []string{"delete"}},
			{"resourceType": "agent", "resourceId": "a2", "permissions": []string{"view"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp struct {
		Results []batchCheckItem `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].Allowed)
	assert.False(t, resp.Results[1].Allowed)
}

func TestEffectiveEndpoint(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")

	rec := f.do(t, http.MethodGet, "/api/acl/effective?type=agent&id=a1", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp effectiveResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint32(15), resp.PermBits)
	assert.Equal(t, []string{"view", "edit", "delete", "share"}, resp.Permissions)

	rec = f.do(t, http.MethodGet, "/api/acl/effective?type=agent", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRevokeEndpoint(t *testing.T) {
	f := newFixture(t)
	grantOwner(t, f, "owner", "a1")
	_, err := f.service.Grant(context.Background(), acl.GrantRequest{
		Principal:    acl.UserPrincipal("friend"),
		ResourceType: acl.ResourceAgent,
		ResourceID:   "a1",
		RoleID:       acl.ViewerRoleID(acl.ResourceAgent),
		GrantedBy:    "owner",
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodDelete, "/api/acl/grants", "owner", map[string]any{
		"principalType": "user",
		"principalId":   "friend",
		"resourceType":  "agent",
		"resourceId":    "a1",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	allowed, err := f.service.CanAccess(context.Background(), acl.ResourceAgent, "a1", acl.UserPrincipal("friend"), nil, acl.PermView)
	require.NoError(t, err)
	assert.False(t, allowed)

	// Revoking again is a no-op, not an error.
	rec = f.do(t, http.MethodDelete, "/api/acl/grants", "owner", map[string]any{
		"principalType": "user",
		"principalId":   "friend",
		"resourceType":  "agent",
		"resourceId":    "a1",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRolesEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/acl/roles/agent_owner", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var role roleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &role))
	assert.Equal(t, uint32(15), role.PermBits)
	assert.Equal(t, "agent", role.ResourceType)

	rec = f.do(t, http.MethodGet, "/api/acl/roles/agent_admin", "owner", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/acl/roles", "owner", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Roles []roleResponse `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Roles, 6)
}

func TestMigrateEndpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/acl/migrate", "admin", map[string]any{
		"resourceType": "agent",
		"dryRun":       true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var outcome acl.MigrateOutcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	assert.True(t, outcome.DryRun)
	require.NotNil(t, outcome.Summary)
	assert.Equal(t, 0, outcome.Summary.Total)

	rec = f.do(t, http.MethodPost, "/api/acl/migrate", "admin", map[string]any{
		"resourceType": "agent",
		"batchSize":    50,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "agent", f.enqueuer.resourceType)
	assert.Equal(t, 50, f.enqueuer.batchSize)
}

func TestUnauthenticatedRequests(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/acl/check", "", map[string]any{
		"resourceType": "agent",
		"resourceId":   "a1",
		"permissions":  []string{"view"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
