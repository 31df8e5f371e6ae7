package acl

import (
	"fmt"
	"strings"

	"github.com/parley-chat/parley/internal/shared"
)

// PermBits is a bitmask of resource permissions. Values are persisted in
// acl_entries and must never be reassigned; new permissions extend the mask
// with the next free bit.
type PermBits uint32

const (
	// PermView allows reading the resource.
	PermView PermBits = 1 << iota
	// PermEdit allows modifying the resource.
	PermEdit
	// PermDelete allows deleting the resource.
	PermDelete
	// PermShare allows granting other principals access to the resource.
	PermShare
)

// Combine returns the bitwise OR of the given permission sets.
func Combine(bits ...PermBits) PermBits {
	var combined PermBits
	for _, b := range bits {
		combined |= b
	}
	return combined
}

// Has reports whether every bit in required is present in p.
func (p PermBits) Has(required PermBits) bool {
	return p&required == required
}

// Add returns p with the given bits set.
func (p PermBits) Add(bits PermBits) PermBits {
	return p | bits
}

// Names returns the symbolic names of the set bits, in bit order.
func (p PermBits) Names() []string {
	var names []string
	for _, entry := range permNames {
		if p.Has(entry.bit) {
			names = append(names, entry.name)
		}
	}
	return names
}

func (p PermBits) String() string {
	names := p.Names()
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// ParsePermissionNames converts symbolic permission names into a bitmask.
// An unknown name is a validation error.
func ParsePermissionNames(names []string) (PermBits, error) {
	var bits PermBits
	for _, name := range names {
		found := false
		for _, entry := range permNames {
			if entry.name == strings.ToLower(name) {
				bits |= entry.bit
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: unknown permission %q", shared.ErrValidation, name)
		}
	}
	return bits, nil
}

var permNames = []struct {
	bit  PermBits
	name string
}{
	{PermView, "view"},
	{PermEdit, "edit"},
	{PermDelete, "delete"},
	{PermShare, "share"},
}
