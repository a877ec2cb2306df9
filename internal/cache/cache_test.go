package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreClaim(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	ctx := context.Background()

	owned, err := store.Claim(ctx, "signups:events:1", []byte("1"), 0)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = store.Claim(ctx, "signups:events:1", []byte("2"), 0)
	require.NoError(t, err)
	assert.False(t, owned)

	value, err := store.Get(ctx, "signups:events:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), value)

	_, err = store.Claim(ctx, "", nil, 0)
	assert.Error(t, err)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Second))

	now = now.Add(9 * time.Second)
	_, err := store.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	owned, err := store.Claim(ctx, "k", []byte("again"), 0)
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestMemoryStoreDelete(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNoopStore(t *testing.T) {
	ctx := context.Background()
	store := noopStore{}

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	owned, err := store.Claim(ctx, "k", nil, 0)
	require.NoError(t, err)
	assert.True(t, owned)
}
