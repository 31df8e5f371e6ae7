package resources

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/shared"
)

// Repository provides PostgreSQL backed lookups over the resource tables.
// Table names come from the registry, never from callers.
type Repository struct {
	pool     *pgxpool.Pool
	registry *Registry
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, registry *Registry) *Repository {
	return &Repository{pool: pool, registry: registry}
}

// ListUncovered returns resources of the type with no user-principal ACL
// entry, flagged with their global-project membership. This is the scan
// phase of the permission backfill.
func (r *Repository) ListUncovered(ctx context.Context, resourceType acl.ResourceType) ([]acl.UncoveredResource, error) {
	meta, err := r.registry.Lookup(resourceType)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT r.id, r.author_id,
		       EXISTS (
		           SELECT 1 FROM global_project_resources g
		           WHERE g.resource_type = $1 AND g.resource_id = r.id
		       ) AS global
		FROM %s r
		WHERE NOT EXISTS (
		    SELECT 1 FROM acl_entries e
		    WHERE e.resource_type = $1 AND e.resource_id = r.id AND e.principal_type = 'user'
		)
		ORDER BY r.id`, meta.Table)
	rows, err := r.pool.Query(ctx, query, string(resourceType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var uncovered []acl.UncoveredResource
	for rows.Next() {
		var res acl.UncoveredResource
		if err := rows.Scan(&res.ID, &res.AuthorID, &res.Global); err != nil {
			return nil, err
		}
		uncovered = append(uncovered, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return uncovered, nil
}

// Exists reports whether the resource row is present.
func (r *Repository) Exists(ctx context.Context, resourceType acl.ResourceType, resourceID string) (bool, error) {
	meta, err := r.registry.Lookup(resourceType)
	if err != nil {
		return false, err
	}
	var found bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, meta.Table)
	if err := r.pool.QueryRow(ctx, query, resourceID).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// Author returns the author of the resource.
func (r *Repository) Author(ctx context.Context, resourceType acl.ResourceType, resourceID string) (string, error) {
	meta, err := r.registry.Lookup(resourceType)
	if err != nil {
		return "", err
	}
	var author string
	query := fmt.Sprintf(`SELECT author_id FROM %s WHERE id = $1`, meta.Table)
	if err := r.pool.QueryRow(ctx, query, resourceID).Scan(&author); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("resources: %s %s: %w", resourceType, resourceID, shared.ErrNotFound)
		}
		return "", err
	}
	return author, nil
}

// Delete removes the resource row and reports whether it existed. Callers
// dispatch the deleted hook afterwards so ACL entries cascade.
func (r *Repository) Delete(ctx context.Context, resourceType acl.ResourceType, resourceID string) (bool, error) {
	meta, err := r.registry.Lookup(resourceType)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, meta.Table)
	tag, err := r.pool.Exec(ctx, query, resourceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
