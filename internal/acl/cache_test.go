package acl

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheServesSecondReadWithoutLoader(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	ref := ResourceRef{Type: ResourceAgent, ID: "a1"}

	loads := 0
	loader := func(context.Context) (PermBits, error) {
		loads++
		return Combine(PermView, PermEdit), nil
	}

	bits, err := cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), []string{"g1"}, loader)
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermEdit), bits)

	bits, err = cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), []string{"g1"}, loader)
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermEdit), bits)
	assert.Equal(t, 1, loads)
}

func TestCacheKeySeparatesPrincipalsAndGroups(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	ref := ResourceRef{Type: ResourceAgent, ID: "a1"}

	_, err := cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), nil, func(context.Context) (PermBits, error) {
		return PermView, nil
	})
	require.NoError(t, err)

	bits, err := cache.EffectiveBits(ctx, ref, UserPrincipal("u2"), nil, func(context.Context) (PermBits, error) {
		return PermEdit, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PermEdit, bits, "different principal must not share a key")

	bits, err = cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), []string{"g1"}, func(context.Context) (PermBits, error) {
		return Combine(PermView, PermShare), nil
	})
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermShare), bits, "group set is part of the key")
}

func TestBumpInvalidatesResource(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	ref := ResourceRef{Type: ResourceAgent, ID: "a1"}

	loads := 0
	loader := func(context.Context) (PermBits, error) {
		loads++
		if loads == 1 {
			return PermView, nil
		}
		return Combine(PermView, PermEdit), nil
	}

	bits, err := cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), nil, loader)
	require.NoError(t, err)
	assert.Equal(t, PermView, bits)

	require.NoError(t, cache.Bump(ctx, ref))

	bits, err = cache.EffectiveBits(ctx, ref, UserPrincipal("u1"), nil, loader)
	require.NoError(t, err)
	assert.Equal(t, Combine(PermView, PermEdit), bits)
	assert.Equal(t, 2, loads)
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *Cache
	bits, err := cache.EffectiveBits(context.Background(), ResourceRef{Type: ResourceAgent, ID: "a1"}, UserPrincipal("u1"), nil, func(context.Context) (PermBits, error) {
		return PermShare, nil
	})
	require.NoError(t, err)
	assert.Equal(t, PermShare, bits)
	assert.NoError(t, cache.Bump(context.Background(), ResourceRef{Type: ResourceAgent, ID: "a1"}))
}
