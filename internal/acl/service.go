package acl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parley-chat/parley/internal/shared"
)

// DefaultCheckChunkSize bounds how many distinct resources a single batch
// check fetches from the store at once.
const DefaultCheckChunkSize = 25

// AuditRecorder persists grant/revoke audit records. Satisfied by
// shared.AuditLogger; nil disables auditing.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig carries tunables for the permission service.
type ServiceConfig struct {
	// CheckChunkSize is the batch-check fetch size; zero selects the default.
	CheckChunkSize int
}

// Service is the operational surface of the ACL engine: grant, revoke,
// check, resolve, and batch check. Grant and revoke mutate persisted state;
// checks are read-only and safe for unbounded concurrent callers.
type Service struct {
	repo   RepositoryPort
	roles  *RoleRegistry
	cache  *Cache
	audit  AuditRecorder
	config ServiceConfig
	now    func() time.Time
}

// NewService constructs the permission service.
func NewService(repo RepositoryPort, roles *RoleRegistry, cache *Cache, audit AuditRecorder, config ServiceConfig) *Service {
	if config.CheckChunkSize <= 0 {
		config.CheckChunkSize = DefaultCheckChunkSize
	}
	return &Service{repo: repo, roles: roles, cache: cache, audit: audit, config: config, now: time.Now}
}

// Roles exposes the role registry for lookups and refresh.
func (s *Service) Roles() *RoleRegistry {
	return s.roles
}

// Grant resolves the role and upserts the grant. Granting twice with the
// same arguments leaves exactly one entry with a refreshed timestamp. An
// unknown role identifier is a configuration error, not a user error.
func (s *Service) Grant(ctx context.Context, req GrantRequest) (Entry, error) {
	if err := validateTarget(req.Principal, req.ResourceType, req.ResourceID); err != nil {
		return Entry{}, err
	}
	if req.RoleID == "" {
		return Entry{}, fmt.Errorf("%w: role id required", shared.ErrValidation)
	}
	role, err := s.roles.FindRoleByIdentifier(req.RoleID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Entry{}, fmt.Errorf("%w: unknown role %q", shared.ErrConfig, req.RoleID)
		}
		return Entry{}, err
	}
	if role.ResourceType != req.ResourceType {
		return Entry{}, fmt.Errorf("%w: role %q is scoped to %s, not %s", shared.ErrConfig, req.RoleID, role.ResourceType, req.ResourceType)
	}
	entry := Entry{
		PrincipalType:  req.Principal.Kind,
		PrincipalID:    req.Principal.ID,
		PrincipalModel: req.Principal.Model(),
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		PermBits:       role.PermBits,
		RoleID:         role.RoleID,
		GrantedBy:      req.GrantedBy,
		GrantedAt:      s.now().UTC(),
	}
	return s.persistGrant(ctx, entry)
}

// GrantBits upserts a direct grant carrying a raw bitmask and no role.
func (s *Service) GrantBits(ctx context.Context, req GrantBitsRequest) (Entry, error) {
	if err := validateTarget(req.Principal, req.ResourceType, req.ResourceID); err != nil {
		return Entry{}, err
	}
	if req.PermBits == 0 {
		return Entry{}, fmt.Errorf("%w: empty permission mask", shared.ErrValidation)
	}
	entry := Entry{
		PrincipalType:  req.Principal.Kind,
		PrincipalID:    req.Principal.ID,
		PrincipalModel: req.Principal.Model(),
		ResourceType:   req.ResourceType,
		ResourceID:     req.ResourceID,
		PermBits:       req.PermBits,
		GrantedBy:      req.GrantedBy,
		GrantedAt:      s.now().UTC(),
	}
	return s.persistGrant(ctx, entry)
}

// Revoke deletes the matching grant. A missing entry is a no-op.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) error {
	if err := validateTarget(req.Principal, req.ResourceType, req.ResourceID); err != nil {
		return err
	}
	existed, err := s.repo.DeleteEntry(ctx, req.Principal, req.ResourceType, req.ResourceID)
	if err != nil {
		return err
	}
	if !existed {
		return nil
	}
	ref := ResourceRef{Type: req.ResourceType, ID: req.ResourceID}
	if err := s.cache.Bump(ctx, ref); err != nil {
		return err
	}
	s.recordAudit(ctx, "acl.revoke", req.Principal, ref, "", nil)
	return nil
}

// OnResourceDeleted cascades a resource deletion into the ACL store. Wired
// to the resource directory's deleted hook.
func (s *Service) OnResourceDeleted(ctx context.Context, ref ResourceRef) (int64, error) {
	deleted, err := s.repo.DeleteResourceEntries(ctx, ref.Type, ref.ID)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		if err := s.cache.Bump(ctx, ref); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// EffectivePermissions returns the OR-combination of every entry applying
// to the principal on the resource. A resource with no entries yields zero,
// never an error.
func (s *Service) EffectivePermissions(ctx context.Context, resourceType ResourceType, resourceID string, principal Principal, groupIDs []string) (PermBits, error) {
	if err := validateTarget(principal, resourceType, resourceID); err != nil {
		return 0, err
	}
	ref := ResourceRef{Type: resourceType, ID: resourceID}
	return s.cache.EffectiveBits(ctx, ref, principal, groupIDs, func(ctx context.Context) (PermBits, error) {
		entries, err := s.repo.ListEffectiveEntries(ctx, resourceType, []string{resourceID}, principal, groupIDs)
		if err != nil {
			return 0, err
		}
		return combineEntries(entries), nil
	})
}

// CanAccess reports whether the principal holds every required bit on the
// resource. "No permission" is a normal false result, not an error.
func (s *Service) CanAccess(ctx context.Context, resourceType ResourceType, resourceID string, principal Principal, groupIDs []string, required PermBits) (bool, error) {
	if required == 0 {
		return false, fmt.Errorf("%w: required permission mask is empty", shared.ErrValidation)
	}
	held, err := s.EffectivePermissions(ctx, resourceType, resourceID, principal, groupIDs)
	if err != nil {
		return false, err
	}
	return held.Has(required), nil
}

// CheckResult pairs one batch check with its outcome.
type CheckResult struct {
	Check   Check
	Allowed bool
}

// CanAccessBatch evaluates many checks with one store fetch per chunk of
// distinct resources, bounding load on the backing store.
func (s *Service) CanAccessBatch(ctx context.Context, checks []Check, principal Principal, groupIDs []string) ([]CheckResult, error) {
	if err := principal.Validate(); err != nil {
		return nil, err
	}
	for _, check := range checks {
		if check.ResourceID == "" || check.ResourceType == "" {
			return nil, fmt.Errorf("%w: check requires resource type and id", shared.ErrValidation)
		}
		if check.Required == 0 {
			return nil, fmt.Errorf("%w: required permission mask is empty", shared.ErrValidation)
		}
	}

	held := make(map[ResourceRef]PermBits)
	byType := make(map[ResourceType][]string)
	seen := make(map[ResourceRef]struct{})
	for _, check := range checks {
		ref := ResourceRef{Type: check.ResourceType, ID: check.ResourceID}
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		byType[check.ResourceType] = append(byType[check.ResourceType], check.ResourceID)
	}
	for resourceType, ids := range byType {
		for start := 0; start < len(ids); start += s.config.CheckChunkSize {
			end := start + s.config.CheckChunkSize
			if end > len(ids) {
				end = len(ids)
			}
			entries, err := s.repo.ListEffectiveEntries(ctx, resourceType, ids[start:end], principal, groupIDs)
			if err != nil {
				return nil, err
			}
			for _, entry := range entries {
				ref := ResourceRef{Type: entry.ResourceType, ID: entry.ResourceID}
				held[ref] |= entry.PermBits
			}
		}
	}

	results := make([]CheckResult, len(checks))
	for i, check := range checks {
		ref := ResourceRef{Type: check.ResourceType, ID: check.ResourceID}
		results[i] = CheckResult{Check: check, Allowed: held[ref].Has(check.Required)}
	}
	return results, nil
}

func (s *Service) persistGrant(ctx context.Context, entry Entry) (Entry, error) {
	if err := s.repo.UpsertEntry(ctx, entry); err != nil {
		return Entry{}, err
	}
	ref := ResourceRef{Type: entry.ResourceType, ID: entry.ResourceID}
	if err := s.cache.Bump(ctx, ref); err != nil {
		return Entry{}, err
	}
	principal := Principal{Kind: entry.PrincipalType, ID: entry.PrincipalID}
	s.recordAudit(ctx, "acl.grant", principal, ref, entry.GrantedBy, map[string]any{
		"role_id":   entry.RoleID,
		"perm_bits": uint32(entry.PermBits),
	})
	return entry, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, principal Principal, ref ResourceRef, actor string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["principal"] = principal.String()
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   string(ref.Type),
		EntityID: ref.ID,
		Meta:     meta,
	})
}

func validateTarget(principal Principal, resourceType ResourceType, resourceID string) error {
	if err := principal.Validate(); err != nil {
		return err
	}
	if resourceType == "" {
		return fmt.Errorf("%w: resource type required", shared.ErrValidation)
	}
	if resourceID == "" {
		return fmt.Errorf("%w: resource id required", shared.ErrValidation)
	}
	return nil
}

func combineEntries(entries []Entry) PermBits {
	var combined PermBits
	for _, entry := range entries {
		combined |= entry.PermBits
	}
	return combined
}
