package acl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/parley-chat/parley/internal/shared"
)

// MigrationActor is recorded as granted_by on backfilled entries.
const MigrationActor = "acl-migration"

const (
	defaultMigrateBatchSize   = 100
	defaultMigrateBatchPause  = 100 * time.Millisecond
	defaultMigrateParallelism = 4
	migrateSampleSize         = 5
)

// MigrateRequest configures one backfill run.
type MigrateRequest struct {
	ResourceType ResourceType
	DryRun       bool
	BatchSize    int
}

// MigrateSummary counts the classification buckets of a dry run.
type MigrateSummary struct {
	Total            int `json:"total"`
	GlobalViewAccess int `json:"globalViewAccess"`
	PrivateResources int `json:"privateResources"`
}

// MigrateDetails carries small per-bucket samples for a dry run.
type MigrateDetails struct {
	GlobalViewAccess []string `json:"globalViewAccess"`
	PrivateResources []string `json:"privateResources"`
}

// MigrateOutcome reports a finished run. Summary and Details are set for
// dry runs; the counters are set for live runs.
type MigrateOutcome struct {
	DryRun           bool             `json:"dryRun"`
	Summary          *MigrateSummary  `json:"summary,omitempty"`
	Details          *MigrateDetails  `json:"details,omitempty"`
	Migrated         int              `json:"migrated"`
	Errors           int              `json:"errors"`
	OwnerGrants      int              `json:"ownerGrants"`
	PublicViewGrants int              `json:"publicViewGrants"`
}

// MigratorConfig carries tunables for the backfill runner.
type MigratorConfig struct {
	// BatchSize is the live-run batch size; zero selects the default of 100.
	BatchSize int
	// BatchPause is the sleep between batches, bounding store load.
	BatchPause time.Duration
	// Parallelism bounds concurrent grant calls within one batch.
	Parallelism int
}

// Migrator backfills default permissions onto resources created before the
// ACL system existed. Runs are idempotent at resource granularity: the scan
// excludes anything that already has a user-principal entry, so a repeat
// live run performs zero mutations.
type Migrator struct {
	service *Service
	scanner ResourceScanner
	logger  *slog.Logger
	config  MigratorConfig
	sleep   func(context.Context, time.Duration) error
}

// NewMigrator constructs a backfill runner.
func NewMigrator(service *Service, scanner ResourceScanner, logger *slog.Logger, config MigratorConfig) *Migrator {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultMigrateBatchSize
	}
	if config.BatchPause <= 0 {
		config.BatchPause = defaultMigrateBatchPause
	}
	if config.Parallelism <= 0 {
		config.Parallelism = defaultMigrateParallelism
	}
	return &Migrator{service: service, scanner: scanner, logger: logger, config: config, sleep: sleepCtx}
}

// Run scans, classifies, and (unless DryRun) grants default permissions.
// Per-item grant failures are logged and counted but never abort the run;
// Run errors only when the scan or classification preconditions fail.
func (m *Migrator) Run(ctx context.Context, req MigrateRequest) (*MigrateOutcome, error) {
	if req.ResourceType == "" {
		return nil, fmt.Errorf("%w: resource type required", shared.ErrValidation)
	}
	ownerRole, err := m.service.Roles().FindRoleByIdentifier(OwnerRoleID(req.ResourceType))
	if err != nil {
		return nil, fmt.Errorf("%w: owner role for %s not seeded", shared.ErrConfig, req.ResourceType)
	}
	viewerRole, err := m.service.Roles().FindRoleByIdentifier(ViewerRoleID(req.ResourceType))
	if err != nil {
		return nil, fmt.Errorf("%w: viewer role for %s not seeded", shared.ErrConfig, req.ResourceType)
	}

	uncovered, err := m.scanner.ListUncovered(ctx, req.ResourceType)
	if err != nil {
		return nil, fmt.Errorf("acl: scan %s: %w", req.ResourceType, err)
	}

	var global, private []UncoveredResource
	for _, res := range uncovered {
		if res.Global {
			global = append(global, res)
		} else {
			private = append(private, res)
		}
	}

	if req.DryRun {
		return &MigrateOutcome{
			DryRun: true,
			Summary: &MigrateSummary{
				Total:            len(uncovered),
				GlobalViewAccess: len(global),
				PrivateResources: len(private),
			},
			Details: &MigrateDetails{
				GlobalViewAccess: sampleIDs(global, migrateSampleSize),
				PrivateResources: sampleIDs(private, migrateSampleSize),
			},
		}, nil
	}

	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = m.config.BatchSize
	}

	outcome := &MigrateOutcome{}
	var mu sync.Mutex
	for start := 0; start < len(uncovered); start += batchSize {
		end := start + batchSize
		if end > len(uncovered) {
			end = len(uncovered)
		}
		group, groupCtx := errgroup.WithContext(ctx)
		group.SetLimit(m.config.Parallelism)
		for _, res := range uncovered[start:end] {
			res := res
			group.Go(func() error {
				result := m.migrateOne(groupCtx, req.ResourceType, res, ownerRole, viewerRole)
				mu.Lock()
				outcome.OwnerGrants += result.ownerGrants
				outcome.PublicViewGrants += result.publicGrants
				if result.failed {
					outcome.Errors++
				} else {
					outcome.Migrated++
				}
				mu.Unlock()
				return nil
			})
		}
		// Item failures never propagate; the group only carries cancellation.
		_ = group.Wait()
		if end < len(uncovered) {
			if err := m.sleep(ctx, m.config.BatchPause); err != nil {
				return outcome, err
			}
		}
	}

	if m.logger != nil {
		m.logger.Info("acl migration finished",
			slog.String("resource_type", string(req.ResourceType)),
			slog.Int("migrated", outcome.Migrated),
			slog.Int("errors", outcome.Errors),
			slog.Int("owner_grants", outcome.OwnerGrants),
			slog.Int("public_view_grants", outcome.PublicViewGrants))
	}
	return outcome, nil
}

type itemResult struct {
	ownerGrants  int
	publicGrants int
	failed       bool
}

func (m *Migrator) migrateOne(ctx context.Context, resourceType ResourceType, res UncoveredResource, ownerRole, viewerRole AccessRole) itemResult {
	var result itemResult
	if res.AuthorID == "" {
		m.logItemFailure(resourceType, res.ID, errors.New("resource has no author"))
		result.failed = true
		return result
	}
	if _, err := m.service.Grant(ctx, GrantRequest{
		Principal:    UserPrincipal(res.AuthorID),
		ResourceType: resourceType,
		ResourceID:   res.ID,
		RoleID:       ownerRole.RoleID,
		GrantedBy:    MigrationActor,
	}); err != nil {
		m.logItemFailure(resourceType, res.ID, err)
		result.failed = true
		return result
	}
	result.ownerGrants++
	if res.Global {
		if _, err := m.service.Grant(ctx, GrantRequest{
			Principal:    PublicPrincipal(),
			ResourceType: resourceType,
			ResourceID:   res.ID,
			RoleID:       viewerRole.RoleID,
			GrantedBy:    MigrationActor,
		}); err != nil {
			m.logItemFailure(resourceType, res.ID, err)
			result.failed = true
			return result
		}
		result.publicGrants++
	}
	return result
}

func (m *Migrator) logItemFailure(resourceType ResourceType, resourceID string, err error) {
	if m.logger == nil {
		return
	}
	m.logger.Warn("acl migration item failed",
		slog.String("resource_type", string(resourceType)),
		slog.String("resource_id", resourceID),
		slog.Any("error", err))
}

func sampleIDs(resources []UncoveredResource, limit int) []string {
	ids := make([]string, 0, limit)
	for _, res := range resources {
		if len(ids) == limit {
			break
		}
		ids = append(ids, res.ID)
	}
	return ids
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
