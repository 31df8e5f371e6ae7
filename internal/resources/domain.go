package resources

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/parley-chat/parley/internal/acl"
	"github.com/parley-chat/parley/internal/shared"
)

// Meta describes one shareable resource type: its backing table and the
// default role identifiers the ACL layer assigns on creation and backfill.
type Meta struct {
	Type              acl.ResourceType
	Table             string
	DefaultViewerRole string
	DefaultEditorRole string
	DefaultOwnerRole  string
	displayName       string
}

// DisplayName returns the human-readable name of the type.
func (m Meta) DisplayName() string {
	return m.displayName
}

var titleCaser = cases.Title(language.English)

func newMeta(t acl.ResourceType, table string) Meta {
	return Meta{
		Type:              t,
		Table:             table,
		DefaultViewerRole: acl.ViewerRoleID(t),
		DefaultEditorRole: acl.EditorRoleID(t),
		DefaultOwnerRole:  acl.OwnerRoleID(t),
		displayName:       titleCaser.String(strings.ReplaceAll(string(t), "_", " ")),
	}
}

// Registry holds the resource types Parley exposes to sharing. The set is
// fixed at construction; lookups are read-only and safe for concurrent use.
type Registry struct {
	metas map[acl.ResourceType]Meta
	order []acl.ResourceType
}

// NewRegistry builds the registry of shareable types.
func NewRegistry() *Registry {
	r := &Registry{metas: map[acl.ResourceType]Meta{}}
	r.register(newMeta(acl.ResourceAgent, "agents"))
	r.register(newMeta(acl.ResourcePromptGroup, "prompt_groups"))
	return r
}

func (r *Registry) register(meta Meta) {
	r.metas[meta.Type] = meta
	r.order = append(r.order, meta.Type)
}

// Lookup returns the metadata for a type.
func (r *Registry) Lookup(t acl.ResourceType) (Meta, error) {
	meta, ok := r.metas[t]
	if !ok {
		return Meta{}, fmt.Errorf("resources: type %q: %w", t, shared.ErrNotFound)
	}
	return meta, nil
}

// Types lists all registered resource types in registration order.
func (r *Registry) Types() []acl.ResourceType {
	return append([]acl.ResourceType(nil), r.order...)
}
