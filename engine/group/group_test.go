package group_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmincu/pulstrate/engine/group"
)

func TestRegistry_Defaults(t *testing.T) {
	t.Run("Should seed the default group", func(t *testing.T) {
		r := group.NewRegistry(0)
		cfg, err := r.Get(group.DefaultID)
		require.NoError(t, err)
		assert.Equal(t, group.DefaultMaxParallelism, cfg.MaxParallelism)
	})
	t.Run("Should honor a configured default cap", func(t *testing.T) {
		r := group.NewRegistry(4)
		assert.Equal(t, 4, r.MaxParallelism(group.DefaultID))
	})
	t.Run("Should fall back to the default cap for unknown groups", func(t *testing.T) {
		r := group.NewRegistry(8)
		assert.Equal(t, 8, r.MaxParallelism("never-registered"))
	})
}

func TestRegistry_CRUD(t *testing.T) {
	t.Run("Should create and fetch a group", func(t *testing.T) {
		r := group.NewRegistry(0)
		created, err := r.Create(group.Config{ID: "gpu", Name: "GPU pool", MaxParallelism: 2})
		require.NoError(t, err)
		assert.Equal(t, 2, created.MaxParallelism)

		got, err := r.Get("gpu")
		require.NoError(t, err)
		assert.Equal(t, created, got)
	})
	t.Run("Should default name and cap on create", func(t *testing.T) {
		r := group.NewRegistry(0)
		created, err := r.Create(group.Config{ID: "batch"})
		require.NoError(t, err)
		assert.Equal(t, "batch", created.Name)
		assert.Equal(t, group.DefaultMaxParallelism, created.MaxParallelism)
	})
	t.Run("Should reject duplicate ids", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Create(group.Config{ID: "gpu"})
		require.NoError(t, err)
		_, err = r.Create(group.Config{ID: "gpu"})
		assert.ErrorIs(t, err, group.ErrAlreadyExists)
	})
	t.Run("Should reject empty and negative configs", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Create(group.Config{ID: "   "})
		assert.Error(t, err)
		_, err = r.Create(group.Config{ID: "gpu", MaxParallelism: -1})
		assert.Error(t, err)
	})
	t.Run("Should update an existing group", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Create(group.Config{ID: "gpu", MaxParallelism: 2})
		require.NoError(t, err)
		updated, err := r.Update(group.Config{ID: "gpu", Name: "GPU", MaxParallelism: 6})
		require.NoError(t, err)
		assert.Equal(t, 6, updated.MaxParallelism)
		assert.Equal(t, 6, r.MaxParallelism("gpu"))
	})
	t.Run("Should fail updating an unknown group", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Update(group.Config{ID: "missing"})
		assert.ErrorIs(t, err, group.ErrNotFound)
	})
	t.Run("Should delete a group but protect the default", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Create(group.Config{ID: "gpu"})
		require.NoError(t, err)
		require.NoError(t, r.Delete("gpu"))
		assert.ErrorIs(t, r.Delete("gpu"), group.ErrNotFound)
		assert.ErrorIs(t, r.Delete(group.DefaultID), group.ErrProtected)
	})
	t.Run("Should list groups sorted by id", func(t *testing.T) {
		r := group.NewRegistry(0)
		_, err := r.Create(group.Config{ID: "zeta"})
		require.NoError(t, err)
		_, err = r.Create(group.Config{ID: "alpha"})
		require.NoError(t, err)
		list := r.List()
		require.Len(t, list, 3)
		assert.Equal(t, "alpha", list[0].ID)
		assert.Equal(t, "default", list[1].ID)
		assert.Equal(t, "zeta", list[2].ID)
	})
	t.Run("Should seed from configuration", func(t *testing.T) {
		r := group.NewRegistry(0)
		err := r.Seed([]group.Config{
			{ID: "io", MaxParallelism: 16},
			{ID: "default", Name: "Default", MaxParallelism: 4},
		})
		require.NoError(t, err)
		assert.Equal(t, 16, r.MaxParallelism("io"))
		assert.Equal(t, 4, r.MaxParallelism(group.DefaultID))
	})
}
