package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/patchbay/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc, err := s.LoadConfig(ctx, "oscillator", 42)
	require.NoError(t, err)
	assert.Nil(t, doc)

	require.NoError(t, s.SaveConfig(ctx, "oscillator", 42, []byte(`{"amplitude":2.0}`)))

	doc, err = s.LoadConfig(ctx, "oscillator", 42)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amplitude":2.0}`, string(doc))

	// Same id under another plugin is a distinct row.
	doc, err = s.LoadConfig(ctx, "other", 42)
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestSaveOverwrites(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SaveConfig(ctx, "oscillator", 1, []byte(`{"amplitude":1.0}`)))
	require.NoError(t, s.SaveConfig(ctx, "oscillator", 1, []byte(`{"amplitude":3.0}`)))

	doc, err := s.LoadConfig(ctx, "oscillator", 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amplitude":3.0}`, string(doc))
}

func TestDeleteConfig(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SaveConfig(ctx, "oscillator", 1, []byte(`{}`)))
	require.NoError(t, s.DeleteConfig(ctx, "oscillator", 1))

	doc, err := s.LoadConfig(ctx, "oscillator", 1)
	require.NoError(t, err)
	assert.Nil(t, doc)

	// Deleting again is not an error.
	require.NoError(t, s.DeleteConfig(ctx, "oscillator", 1))
}

func TestListOrdered(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SaveConfig(ctx, "b", 2, []byte(`{}`)))
	require.NoError(t, s.SaveConfig(ctx, "a", 9, []byte(`{}`)))
	require.NoError(t, s.SaveConfig(ctx, "a", 1, []byte(`{}`)))

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].Plugin)
	assert.Equal(t, uint64(1), all[0].InstanceID)
	assert.Equal(t, "a", all[1].Plugin)
	assert.Equal(t, uint64(9), all[1].InstanceID)
	assert.Equal(t, "b", all[2].Plugin)
}
