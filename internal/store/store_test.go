package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragon-bot/dragon/pkg/api"
)

type doc struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fs, err := NewFileStore(filepath.Join(dir, "config"))
	require.NoError(t, err)
	sq, err := NewSQLiteStore(filepath.Join(dir, "dragon.db"))
	require.NoError(t, err)
	bg, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		sq.Close()
		bg.Close()
	})
	return map[string]Store{"file": fs, "sqlite": sq, "badger": bg, "memory": NewMemoryStore()}
}

// TestStoreRoundTrip tests absent, save, load and overwrite on every backend
func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			var got doc
			found, err := s.Load(ctx, 1, "config-manager", &got)
			require.NoError(t, err)
			assert.False(t, found)

			require.NoError(t, s.Save(ctx, 1, "config-manager", doc{Name: "a", Items: []string{"x"}}))
			found, err = s.Load(ctx, 1, "config-manager", &got)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, doc{Name: "a", Items: []string{"x"}}, got)

			require.NoError(t, s.Save(ctx, 1, "config-manager", doc{Name: "b"}))
			got = doc{}
			_, err = s.Load(ctx, 1, "config-manager", &got)
			require.NoError(t, err)
			assert.Equal(t, "b", got.Name)

			require.NoError(t, s.Ping(ctx))
		})
	}
}

// TestStoreIsolation tests that tenants and modules do not share documents
func TestStoreIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Save(ctx, 1, "a", doc{Name: "one-a"}))
			require.NoError(t, s.Save(ctx, 2, "a", doc{Name: "two-a"}))
			require.NoError(t, s.Save(ctx, 1, "b", doc{Name: "one-b"}))

			var got doc
			_, err := s.Load(ctx, 2, "a", &got)
			require.NoError(t, err)
			assert.Equal(t, "two-a", got.Name)

			found, err := s.Load(ctx, 2, "b", &got)
			require.NoError(t, err)
			assert.False(t, found)
		})
	}
}

// TestLoadOrDefault tests the default fallback and snowflake-keyed documents
func TestLoadOrDefault(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	got, err := LoadOrDefault(ctx, s, 9, "permissions-manager", api.GrantTable{})
	require.NoError(t, err)
	assert.Nil(t, got.Namespaces)

	table := api.GrantTable{}
	table.Grant("module-manager", 12345678901234567890, "module-activate")
	require.NoError(t, s.Save(ctx, 9, "permissions-manager", table))

	got, err = LoadOrDefault(ctx, s, 9, "permissions-manager", api.GrantTable{})
	require.NoError(t, err)
	assert.True(t, got.Allows("module-manager", 12345678901234567890, nil, "module-activate"))
}

// TestFileStoreCorrupt tests that undecodable documents surface as storage errors
func TestFileStoreCorrupt(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "5"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "5", "module-manager.json"), []byte("{not json"), 0o644))

	var v api.ActivationRecord
	_, err = s.Load(context.Background(), 5, "module-manager", &v)
	assert.ErrorIs(t, err, ErrStorage)
}

// TestFileStoreLayout tests the on-disk path of a document
func TestFileStoreLayout(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), 77, "module-manager", api.ActivationRecord{"config-manager"}))

	b, err := os.ReadFile(filepath.Join(root, "77", "module-manager.json"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "config-manager")

	entries, err := os.ReadDir(filepath.Join(root, "77"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
