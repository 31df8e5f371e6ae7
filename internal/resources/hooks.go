package resources

import (
	"context"
	"log/slog"
	"sync"

	"github.com/parley-chat/parley/internal/acl"
)

// DeletedHook is notified after a resource row is removed.
type DeletedHook func(ctx context.Context, ref acl.ResourceRef) error

// HookDispatcher fans resource lifecycle events out to subscribers. The ACL
// service subscribes to cascade-delete its entries.
type HookDispatcher struct {
	logger *slog.Logger

	mu      sync.RWMutex
	deleted []DeletedHook
}

// NewHookDispatcher constructs a dispatcher.
func NewHookDispatcher(logger *slog.Logger) *HookDispatcher {
	return &HookDispatcher{logger: logger}
}

// OnDeleted registers a hook for resource deletions.
func (d *HookDispatcher) OnDeleted(hook DeletedHook) {
	d.mu.Lock()
	d.deleted = append(d.deleted, hook)
	d.mu.Unlock()
}

// ResourceDeleted runs every deletion hook. Hook failures are logged, not
// propagated: the resource row is already gone.
func (d *HookDispatcher) ResourceDeleted(ctx context.Context, ref acl.ResourceRef) {
	d.mu.RLock()
	hooks := append([]DeletedHook(nil), d.deleted...)
	d.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(ctx, ref); err != nil && d.logger != nil {
			d.logger.Warn("resource deleted hook failed",
				slog.String("resource_type", string(ref.Type)),
				slog.String("resource_id", ref.ID),
				slog.Any("error", err))
		}
	}
}
