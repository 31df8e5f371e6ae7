package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	assert.Equal(t, PermBits(0), Combine())
	assert.Equal(t, PermView, Combine(PermView))
	assert.Equal(t, PermBits(15), Combine(PermView, PermEdit, PermDelete, PermShare))
	assert.Equal(t, PermBits(3), Combine(PermView, PermEdit, PermView))
}

func TestHasIsContainmentNotEquality(t *testing.T) {
	owner := Combine(PermView, PermEdit, PermDelete, PermShare)
	assert.True(t, owner.Has(PermView))
	assert.True(t, owner.Has(Combine(PermView, PermDelete)))
	assert.True(t, owner.Has(owner))

	viewer := PermView
	assert.True(t, viewer.Has(PermView))
	assert.False(t, viewer.Has(PermEdit))
	assert.False(t, viewer.Has(Combine(PermView, PermEdit)))
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{"view", "edit"}, Combine(PermEdit, PermView).Names())
	assert.Empty(t, PermBits(0).Names())
	assert.Equal(t, "none", PermBits(0).String())
	assert.Equal(t, "view|share", Combine(PermView, PermShare).String())
}
