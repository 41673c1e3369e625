package memcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/lattice/cache/memcache"
)

func TestGetSet(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	got, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Equal(t, 1, c.Len())
}

func TestValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	src := []byte("original")
	require.NoError(t, c.Set(ctx, "k", src, 0))
	src[0] = 'X'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got, "mutating the stored slice must not leak in")

	got[0] = 'Y'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again, "mutating a returned slice must not leak back")
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 5*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", []byte("v"), 0))

	got, err := c.Get(ctx, "short")
	require.NoError(t, err)
	assert.NotNil(t, got)

	time.Sleep(20 * time.Millisecond)

	got, err = c.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = c.Get(ctx, "forever")
	require.NoError(t, err)
	assert.NotNil(t, got, "zero ttl never expires")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Delete(ctx, "k"))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Delete(ctx, "k"), "deleting a missing key is not an error")
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	require.NoError(t, c.Set(ctx, "posts:1", []byte("a"), 0))
	require.NoError(t, c.Set(ctx, "posts:2", []byte("b"), 0))
	require.NoError(t, c.Set(ctx, "users:1", []byte("c"), 0))

	require.NoError(t, c.DeletePrefix(ctx, "posts:"))
	assert.Equal(t, 1, c.Len())

	got, err := c.Get(ctx, "users:1")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c := memcache.New()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Clear(ctx))
	assert.Zero(t, c.Len())
}
