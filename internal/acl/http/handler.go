// Package aclhttp exposes the permission service over JSON endpoints.
package aclhttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/platform/httpx"
	"github.com/parley-chat/parley/internal/shared"
)

// PrincipalResolver turns the session user into an ACL principal plus its
// group memberships. Satisfied by identity.Service.
type PrincipalResolver interface {
	Resolve(ctx context.Context, userID string) (acl.Principal, []string, error)
}

// MigrateEnqueuer submits a live migration run to the background worker.
// Satisfied by jobs.Client.
type MigrateEnqueuer interface {
	EnqueueACLMigrate(ctx context.Context, resourceType string, batchSize int) (string, error)
}

// DecisionObserver records allow/deny outcomes for metrics.
type DecisionObserver interface {
	ObserveDecision(resourceType string, allowed bool)
}

// Handler serves the ACL API.
type Handler struct {
	logger    *slog.Logger
	service   *acl.Service
	migrator  *acl.Migrator
	resolver  PrincipalResolver
	enqueuer  MigrateEnqueuer
	decisions DecisionObserver
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *acl.Service, migrator *acl.Migrator, resolver PrincipalResolver, enqueuer MigrateEnqueuer, decisions DecisionObserver) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		migrator:  migrator,
		resolver:  resolver,
		enqueuer:  enqueuer,
		decisions: decisions,
		validator: validator.New(),
	}
}

// MountRoutes registers ACL routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/grants", h.createGrant)
	r.Delete("/grants", h.deleteGrant)
	r.Post("/check", h.check)
	r.Post("/check/batch", h.checkBatch)
	r.Get("/effective", h.effective)
	r.Get("/roles", h.listRoles)
	r.Get("/roles/{roleID}", h.getRole)
	r.Post("/migrate", h.migrate)
}

type grantRequest struct {
	PrincipalType string `json:"principalType" validate:"required,oneof=user group public"`
	PrincipalID   string `json:"principalId"`
	ResourceType  string `json:"resourceType" validate:"required"`
	ResourceID    string `json:"resourceId" validate:"required"`
	RoleID        string `json:"roleId"`
	PermBits      uint32 `json:"permBits"`
}

type entryResponse struct {
	PrincipalType string   `json:"principalType"`
	PrincipalID   string   `json:"principalId,omitempty"`
	ResourceType  string   `json:"resourceType"`
	ResourceID    string   `json:"resourceId"`
	PermBits      uint32   `json:"permBits"`
	Permissions   []string `json:"permissions"`
	RoleID        string   `json:"roleId,omitempty"`
	GrantedBy     string   `json:"grantedBy"`
	GrantedAt     string   `json:"grantedAt"`
}

func entryToResponse(entry acl.Entry) entryResponse {
	return entryResponse{
		PrincipalType: string(entry.PrincipalType),
		PrincipalID:   entry.PrincipalID,
		ResourceType:  string(entry.ResourceType),
		ResourceID:    entry.ResourceID,
		PermBits:      uint32(entry.PermBits),
		Permissions:   entry.PermBits.Names(),
		RoleID:        entry.RoleID,
		GrantedBy:     entry.GrantedBy,
		GrantedAt:     entry.GrantedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// caller resolves the session user and fails the request when sharing
// rights on the target resource are missing.
func (h *Handler) requireShare(w http.ResponseWriter, r *http.Request, resourceType acl.ResourceType, resourceID string) (acl.Principal, bool) {
	principal, groups, ok := h.currentPrincipal(w, r)
	if !ok {
		return acl.Principal{}, false
	}
	allowed, err := h.service.CanAccess(r.Context(), resourceType, resourceID, principal, groups, acl.PermShare)
	if err != nil {
		httpx.RespondError(w, err)
		return acl.Principal{}, false
	}
	if !allowed {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "sharing this resource requires the share permission")
		return acl.Principal{}, false
	}
	return principal, true
}

func (h *Handler) currentPrincipal(w http.ResponseWriter, r *http.Request) (acl.Principal, []string, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil || sess.User() == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return acl.Principal{}, nil, false
	}
	principal, groups, err := h.resolver.Resolve(r.Context(), sess.User())
	if err != nil {
		h.logger.Error("resolve principal", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return acl.Principal{}, nil, false
	}
	return principal, groups, true
}

func (h *Handler) createGrant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if req.RoleID == "" && req.PermBits == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "either roleId or permBits is required")
		return
	}
	resourceType := acl.ResourceType(req.ResourceType)
	actor, ok := h.requireShare(w, r, resourceType, req.ResourceID)
	if !ok {
		return
	}
	target := acl.Principal{Kind: acl.PrincipalKind(req.PrincipalType), ID: req.PrincipalID}

	var (
		entry acl.Entry
		err   error
	)
	if req.RoleID != "" {
		entry, err = h.service.Grant(r.Context(), acl.GrantRequest{
			Principal:    target,
			ResourceType: resourceType,
			ResourceID:   req.ResourceID,
			RoleID:       req.RoleID,
			GrantedBy:    actor.ID,
		})
	} else {
		entry, err = h.service.GrantBits(r.Context(), acl.GrantBitsRequest{
			Principal:    target,
			ResourceType: resourceType,
			ResourceID:   req.ResourceID,
			PermBits:     acl.PermBits(req.PermBits),
			GrantedBy:    actor.ID,
		})
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entryToResponse(entry))
}

type revokeRequest struct {
	PrincipalType string `json:"principalType" validate:"required,oneof=user group public"`
	PrincipalID   string `json:"principalId"`
	ResourceType  string `json:"resourceType" validate:"required"`
	ResourceID    string `json:"resourceId" validate:"required"`
}

func (h *Handler) deleteGrant(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	resourceType := acl.ResourceType(req.ResourceType)
	if _, ok := h.requireShare(w, r, resourceType, req.ResourceID); !ok {
		return
	}
	err := h.service.Revoke(r.Context(), acl.RevokeRequest{
		Principal:    acl.Principal{Kind: acl.PrincipalKind(req.PrincipalType), ID: req.PrincipalID},
		ResourceType: resourceType,
		ResourceID:   req.ResourceID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	ResourceType string   `json:"resourceType" validate:"required"`
	ResourceID   string   `json:"resourceId" validate:"required"`
	Permissions  []string `json:"permissions" validate:"required,min=1"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	required, err := acl.ParsePermissionNames(req.Permissions)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	principal, groups, ok := h.currentPrincipal(w, r)
	if !ok {
		return
	}
	allowed, err := h.service.CanAccess(r.Context(), acl.ResourceType(req.ResourceType), req.ResourceID, principal, groups, required)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if h.decisions != nil {
		h.decisions.ObserveDecision(req.ResourceType, allowed)
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: allowed})
}

type batchCheckRequest struct {
	Checks []checkRequest `json:"checks" validate:"required,min=1,dive"`
}

type batchCheckItem struct {
	ResourceType string `json:"resourceType"`
	ResourceID   string `json:"resourceId"`
	Allowed      bool   `json:"allowed"`
}

func (h *Handler) checkBatch(w http.ResponseWriter, r *http.Request) {
	var req batchCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	checks := make([]acl.Check, 0, len(req.Checks))
	for _, item := range req.Checks {
		required, err := acl.ParsePermissionNames(item.Permissions)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		checks = append(checks, acl.Check{
			ResourceType: acl.ResourceType(item.ResourceType),
			ResourceID:   item.ResourceID,
			Required:     required,
		})
	}
	principal, groups, ok := h.currentPrincipal(w, r)
	if !ok {
		return
	}
	results, err := h.service.CanAccessBatch(r.Context(), checks, principal, groups)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items := make([]batchCheckItem, len(results))
	for i, result := range results {
		items[i] = batchCheckItem{
			ResourceType: string(result.Check.ResourceType),
			ResourceID:   result.Check.ResourceID,
			Allowed:      result.Allowed,
		}
		if h.decisions != nil {
			h.decisions.ObserveDecision(string(result.Check.ResourceType), result.Allowed)
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": items})
}

type effectiveResponse struct {
	ResourceType string   `json:"resourceType"`
	ResourceID   string   `json:"resourceId"`
	PermBits     uint32   `json:"permBits"`
	Permissions  []string `json:"permissions"`
}

func (h *Handler) effective(w http.ResponseWriter, r *http.Request) {
	resourceType := r.URL.Query().Get("type")
	resourceID := r.URL.Query().Get("id")
	if resourceType == "" || resourceID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "type and id query parameters are required")
		return
	}
	principal, groups, ok := h.currentPrincipal(w, r)
	if !ok {
		return
	}
	bits, err := h.service.EffectivePermissions(r.Context(), acl.ResourceType(resourceType), resourceID, principal, groups)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectiveResponse{
		ResourceType: resourceType,
		ResourceID:   resourceID,
		PermBits:     uint32(bits),
		Permissions:  bits.Names(),
	})
}

type roleResponse struct {
	RoleID       string   `json:"roleId"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	ResourceType string   `json:"resourceType"`
	PermBits     uint32   `json:"permBits"`
	Permissions  []string `json:"permissions"`
}

func roleToResponse(role acl.AccessRole) roleResponse {
	return roleResponse{
		RoleID:       role.RoleID,
		Name:         role.Name,
		Description:  role.Description,
		ResourceType: string(role.ResourceType),
		PermBits:     uint32(role.PermBits),
		Permissions:  role.PermBits.Names(),
	}
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles := h.service.Roles().Snapshot()
	items := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		items = append(items, roleToResponse(role))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": items})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	role, err := h.service.Roles().FindRoleByIdentifier(chi.URLParam(r, "roleID"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, roleToResponse(role))
}

type migrateHTTPRequest struct {
	ResourceType string `json:"resourceType" validate:"required"`
	DryRun       bool   `json:"dryRun"`
	BatchSize    int    `json:"batchSize" validate:"gte=0"`
}

func (h *Handler) migrate(w http.ResponseWriter, r *http.Request) {
	var req migrateHTTPRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if _, _, ok := h.currentPrincipal(w, r); !ok {
		return
	}
	if req.DryRun {
		outcome, err := h.migrator.Run(r.Context(), acl.MigrateRequest{
			ResourceType: acl.ResourceType(req.ResourceType),
			DryRun:       true,
		})
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, outcome)
		return
	}
	if h.enqueuer == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", "background worker is not configured")
		return
	}
	taskID, err := h.enqueuer.EnqueueACLMigrate(r.Context(), req.ResourceType, req.BatchSize)
	if err != nil {
		h.logger.Error("enqueue migration", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}
