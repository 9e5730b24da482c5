package tgverify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dragon-bot/dragon/internal/modules/dbbridge"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/registry/registrytest"
	"github.com/dragon-bot/dragon/internal/store"
)

func seed(t *testing.T) (*store.MemoryStore, *dbbridge.Bridge) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(ctx, 1, dbbridge.ID, dbbridge.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "links.db"), MaxOpenConns: 1}))

	bridge := dbbridge.New(s)
	t.Cleanup(func() { bridge.Close() })
	db, err := bridge.DB(ctx, 1)
	require.NoError(t, err)
	db.MustExecContext(ctx, `CREATE TABLE discord_links (
		id INTEGER PRIMARY KEY,
		ckey TEXT NOT NULL,
		discord_id INTEGER NOT NULL,
		one_time_token TEXT NOT NULL DEFAULT '',
		valid BOOLEAN NOT NULL
	)`)
	db.MustExecContext(ctx, `INSERT INTO discord_links (id, ckey, discord_id, valid) VALUES
		(1, 'spacemanspiff', 1001, 0),
		(2, 'spacemanspiff', 1001, 1),
		(3, 'hobbes', 2002, 1)`)
	return s, bridge
}

// TestLookups tests both lookup keys, ckey normalization and ordering
func TestLookups(t *testing.T) {
	ctx := context.Background()
	_, bridge := seed(t)
	db, err := bridge.DB(ctx, 1)
	require.NoError(t, err)

	links, err := ByCKey(ctx, db, "discord_links", "Spaceman Spiff")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, Link{ID: 2, CKey: "spacemanspiff", DiscordID: 1001, Valid: true}, links[0])
	assert.False(t, links[1].Valid)

	links, err = ByDiscordID(ctx, db, "discord_links", 2002)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "hobbes", links[0].CKey)

	_, err = ByCKey(ctx, db, "links; DROP TABLE x", "a")
	assert.Error(t, err)
}

// TestHandleLookup tests the command through the bridge slot
func TestHandleLookup(t *testing.T) {
	ctx := context.Background()
	s, bridge := seed(t)
	v := New(s)
	env := &registry.Env{Registry: registry.New(v, bridge), Gate: &registrytest.Gate{Allow: true}}

	req, rec := registrytest.Request(env, 1, registry.Actor{}, ID, registrytest.Sub("lookup", "ckey", "hobbes"))
	require.NoError(t, v.HandleCommand(ctx, req))
	assert.Equal(t, []string{"- `hobbes` <-> <@2002> (valid, #3)\n"}, rec.Contents())

	sub := &registry.OptionValue{Name: "lookup", Type: registry.OptionSubCommand, Options: []*registry.OptionValue{
		{Name: "user", Type: registry.OptionUser, Value: "9999"},
	}}
	req, rec = registrytest.Request(env, 1, registry.Actor{}, ID, sub)
	require.NoError(t, v.HandleCommand(ctx, req))
	assert.Equal(t, []string{"No links found."}, rec.Contents())

	req, rec = registrytest.Request(env, 2, registry.Actor{}, ID, registrytest.Sub("lookup", "ckey", "hobbes"))
	require.NoError(t, v.HandleCommand(ctx, req))
	assert.Equal(t, []string{"The database bridge is not configured."}, rec.Contents())
}
