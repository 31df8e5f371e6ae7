package acl

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for grants and roles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertEntry inserts or replaces the grant under its natural key. The
// public principal is stored with an empty principal_id so the primary key
// stays non-null.
func (r *Repository) UpsertEntry(ctx context.Context, entry Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO acl_entries
			(principal_type, principal_id, principal_model, resource_type, resource_id, perm_bits, role_id, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (principal_type, principal_id, resource_type, resource_id)
		DO UPDATE SET
			principal_model = EXCLUDED.principal_model,
			perm_bits = EXCLUDED.perm_bits,
			role_id = EXCLUDED.role_id,
			granted_by = EXCLUDED.granted_by,
			granted_at = EXCLUDED.granted_at`,
		string(entry.PrincipalType), entry.PrincipalID, entry.PrincipalModel,
		string(entry.ResourceType), entry.ResourceID, int64(entry.PermBits),
		entry.RoleID, entry.GrantedBy, entry.GrantedAt)
	return err
}

// DeleteEntry removes the matching grant, reporting whether one existed.
func (r *Repository) DeleteEntry(ctx context.Context, principal Principal, resourceType ResourceType, resourceID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM acl_entries
		WHERE principal_type = $1 AND principal_id = $2 AND resource_type = $3 AND resource_id = $4`,
		string(principal.Kind), principal.ID, string(resourceType), resourceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListEffectiveEntries fetches every entry on the given resources that
// applies to the principal, its groups, or the public principal.
func (r *Repository) ListEffectiveEntries(ctx context.Context, resourceType ResourceType, resourceIDs []string, principal Principal, groupIDs []string) ([]Entry, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	userID := ""
	if principal.Kind == PrincipalUser {
		userID = principal.ID
	}
	if principal.Kind == PrincipalGroup {
		groupIDs = append([]string{principal.ID}, groupIDs...)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT principal_type, principal_id, principal_model, resource_type, resource_id, perm_bits, role_id, granted_by, granted_at
		FROM acl_entries
		WHERE resource_type = $1 AND resource_id = ANY($2)
		  AND (
			(principal_type = 'user' AND principal_id = $3)
			OR (principal_type = 'group' AND principal_id = ANY($4))
			OR principal_type = 'public'
		  )`,
		string(resourceType), resourceIDs, userID, groupIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var ptype, rtype string
		var bits int64
		if err := rows.Scan(&ptype, &e.PrincipalID, &e.PrincipalModel, &rtype, &e.ResourceID, &bits, &e.RoleID, &e.GrantedBy, &e.GrantedAt); err != nil {
			return nil, err
		}
		e.PrincipalType = PrincipalKind(ptype)
		e.ResourceType = ResourceType(rtype)
		e.PermBits = PermBits(bits)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// DeleteResourceEntries cascades a resource deletion into the ACL store.
func (r *Repository) DeleteResourceEntries(ctx context.Context, resourceType ResourceType, resourceID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM acl_entries WHERE resource_type = $1 AND resource_id = $2`,
		string(resourceType), resourceID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// EnsureRole inserts the role if absent. Existing rows keep their bits so a
// re-seed never rewrites administrative role changes.
func (r *Repository) EnsureRole(ctx context.Context, role AccessRole) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_roles (role_id, name, description, resource_type, perm_bits)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (role_id) DO NOTHING`,
		role.RoleID, role.Name, role.Description, string(role.ResourceType), int64(role.PermBits))
	return err
}

// ListRoles returns all roles ordered by role ID.
func (r *Repository) ListRoles(ctx context.Context) ([]AccessRole, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role_id, name, description, resource_type, perm_bits
		FROM access_roles ORDER BY role_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []AccessRole
	for rows.Next() {
		var role AccessRole
		var rtype string
		var bits int64
		if err := rows.Scan(&role.RoleID, &role.Name, &role.Description, &rtype, &bits); err != nil {
			return nil, err
		}
		role.ResourceType = ResourceType(rtype)
		role.PermBits = PermBits(bits)
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}
