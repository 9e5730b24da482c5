package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/registry/registrytest"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var known = []string{"config-manager", "permissions-manager", "error-manager", "database-bridge", "tg-verify"}

// flakyStore fails saves or loads on demand.
type flakyStore struct {
	store.Store
	failSave atomic.Bool
	failLoad map[api.Snowflake]bool
}

func (f *flakyStore) Save(ctx context.Context, t api.Snowflake, m string, v any) error {
	if f.failSave.Load() {
		return fmt.Errorf("%w: disk full", store.ErrStorage)
	}
	return f.Store.Save(ctx, t, m, v)
}

func (f *flakyStore) Load(ctx context.Context, t api.Snowflake, m string, v any) (bool, error) {
	if f.failLoad[t] {
		return false, fmt.Errorf("%w: unreadable", store.ErrStorage)
	}
	return f.Store.Load(ctx, t, m, v)
}

// TestFreshTenant tests the default state of a tenant with no record
func TestFreshTenant(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := New(s, known)

	require.NoError(t, m.InitTenant(ctx, 1))
	assert.Equal(t, []string{ID}, m.GetAllActive(1))
	assert.True(t, m.IsActive(1, ID))
	assert.False(t, m.IsActive(1, "config-manager"))

	found, err := s.Load(ctx, 1, ID, &api.ActivationRecord{})
	require.NoError(t, err)
	assert.False(t, found, "initializing must not write a record")
}

// TestUnknownTenant tests queries on a tenant that was never loaded
func TestUnknownTenant(t *testing.T) {
	m := New(store.NewMemoryStore(), known)
	assert.True(t, m.IsActive(404, ID))
	assert.False(t, m.IsActive(404, "tg-verify"))
	assert.Equal(t, []string{ID}, m.GetAllActive(404))
}

// TestActivateDeactivate tests the activation lifecycle and its error kinds
func TestActivateDeactivate(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := New(s, known)

	require.NoError(t, m.Activate(ctx, 1, "config-manager"))
	require.NoError(t, m.Activate(ctx, 1, "tg-verify"))
	assert.Equal(t, []string{"config-manager", ID, "tg-verify"}, m.GetAllActive(1))

	assert.ErrorIs(t, m.Activate(ctx, 1, "config-manager"), registry.ErrAlreadyActive)
	assert.ErrorIs(t, m.Activate(ctx, 1, ID), registry.ErrAlreadyActive)
	assert.ErrorIs(t, m.Activate(ctx, 1, "nope"), registry.ErrNotFound)

	require.NoError(t, m.Deactivate(ctx, 1, "config-manager"))
	assert.False(t, m.IsActive(1, "config-manager"))
	assert.ErrorIs(t, m.Deactivate(ctx, 1, "config-manager"), registry.ErrAlreadyInactive)
	assert.ErrorIs(t, m.Deactivate(ctx, 1, ID), registry.ErrCannotDeactivateSelf)
	assert.ErrorIs(t, m.Deactivate(ctx, 1, "nope"), registry.ErrNotFound)

	var rec api.ActivationRecord
	_, err := s.Load(ctx, 1, ID, &rec)
	require.NoError(t, err)
	assert.Equal(t, api.ActivationRecord{"tg-verify"}, rec)
}

// TestActiveListIsSorted tests the reported list on a tenant with no record
func TestActiveListIsSorted(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := New(s, known)

	require.NoError(t, m.Activate(ctx, 5, "database-bridge"))
	assert.Equal(t, []string{"database-bridge", ID}, m.GetAllActive(5))
	assert.ErrorIs(t, m.Deactivate(ctx, 5, ID), registry.ErrCannotDeactivateSelf)

	var rec api.ActivationRecord
	_, err := s.Load(ctx, 5, ID, &rec)
	require.NoError(t, err)
	assert.Equal(t, api.ActivationRecord{"database-bridge"}, rec)
	assert.Equal(t, m.GetAllActive(5), m.GetAllActive(5))
}

// TestTenantsAreIndependent tests that one tenant's changes never leak into another
func TestTenantsAreIndependent(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), known)

	require.NoError(t, m.Activate(ctx, 1, "error-manager"))
	assert.False(t, m.IsActive(2, "error-manager"))
	require.NoError(t, m.Activate(ctx, 2, "error-manager"))
	require.NoError(t, m.Deactivate(ctx, 1, "error-manager"))
	assert.True(t, m.IsActive(2, "error-manager"))
}

// TestPersistFailureKeepsState tests that a failed write leaves memory unchanged
func TestPersistFailureKeepsState(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: store.NewMemoryStore()}
	m := New(fs, known)

	require.NoError(t, m.Activate(ctx, 1, "config-manager"))
	fs.failSave.Store(true)

	err := m.Activate(ctx, 1, "tg-verify")
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.False(t, m.IsActive(1, "tg-verify"))

	err = m.Deactivate(ctx, 1, "config-manager")
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.True(t, m.IsActive(1, "config-manager"))
}

// TestReloadFromStore tests that state survives a restart and bad entries are dropped
func TestReloadFromStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(ctx, 3, ID, api.ActivationRecord{"tg-verify", ID, "retired-module", "tg-verify", "config-manager"}))

	m := New(s, known)
	require.NoError(t, m.InitTenant(ctx, 3))
	assert.Equal(t, []string{"config-manager", ID, "tg-verify"}, m.GetAllActive(3))

	require.NoError(t, m.Activate(ctx, 3, "error-manager"))
	restarted := New(s, known)
	require.NoError(t, restarted.InitTenant(ctx, 3))
	assert.Equal(t, m.GetAllActive(3), restarted.GetAllActive(3))
}

// TestActivateLoadsUnknownTenant tests that mutating an unloaded tenant reads its record first
func TestActivateLoadsUnknownTenant(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Save(ctx, 8, ID, api.ActivationRecord{"config-manager"}))

	m := New(s, known)
	require.NoError(t, m.Activate(ctx, 8, "tg-verify"))
	assert.Equal(t, []string{"config-manager", ID, "tg-verify"}, m.GetAllActive(8))
}

// TestInitTenantsPartialFailure tests that one unreadable tenant does not block the rest
func TestInitTenantsPartialFailure(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: store.NewMemoryStore(), failLoad: map[api.Snowflake]bool{2: true}}
	require.NoError(t, fs.Store.Save(ctx, 1, ID, api.ActivationRecord{"error-manager"}))

	m := New(fs, known)
	errs := m.InitTenants(ctx, []api.Snowflake{1, 2, 3}, 2)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[2], store.ErrStorage)
	assert.Equal(t, []api.Snowflake{1, 3}, m.Tenants())
	assert.True(t, m.IsActive(1, "error-manager"))
}

// TestConcurrentActivationUnderSlotLock tests that write-locked activations never lose updates
func TestConcurrentActivationUnderSlotLock(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	m := New(s, known)
	reg := registry.New(m)

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < 20; i++ {
		target := known[i%len(known)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.WithWrite(ctx, ID, registry.Forever, func(mod registry.Module) error {
				return mod.(*Manager).Activate(ctx, 1, target)
			})
			if err == nil {
				successes.Add(1)
			} else if !errors.Is(err, registry.ErrAlreadyActive) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(len(known)), successes.Load())
	var rec api.ActivationRecord
	_, err := s.Load(ctx, 1, ID, &rec)
	require.NoError(t, err)
	assert.ElementsMatch(t, known, []string(rec))
}

// TestHandleActivate tests the activate subcommand end to end with collaborators
func TestHandleActivate(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), known)
	gate := &registrytest.Gate{Allow: true}
	syncer := &registrytest.Syncer{}
	env := &registry.Env{Gate: gate, Commands: syncer}

	req, rec := registrytest.Request(env, 1, registry.Actor{ID: 5}, ID, registrytest.Sub("activate", "module", "tg-verify"))
	require.NoError(t, m.HandleCommand(ctx, req))

	assert.True(t, m.IsActive(1, "tg-verify"))
	assert.Equal(t, []string{"tg-verify"}, syncer.Registered)
	assert.Equal(t, []string{"Activated `tg-verify`."}, rec.Contents())
	require.Len(t, gate.Asked, 1)
	assert.True(t, gate.Asked[0].Equal(PermActivate))

	req, _ = registrytest.Request(env, 1, registry.Actor{ID: 5}, ID, registrytest.Sub("activate", "module", "tg-verify"))
	assert.ErrorIs(t, m.HandleCommand(ctx, req), registry.ErrAlreadyActive)
}

// TestHandleDenied tests that a denied actor changes nothing and gets one reply
func TestHandleDenied(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), known)
	syncer := &registrytest.Syncer{}
	env := &registry.Env{Gate: &registrytest.Gate{}, Commands: syncer}

	req, rec := registrytest.Request(env, 1, registry.Actor{ID: 5}, ID, registrytest.Sub("activate", "module", "tg-verify"))
	require.NoError(t, m.HandleCommand(ctx, req))
	assert.False(t, m.IsActive(1, "tg-verify"))
	assert.Empty(t, syncer.Registered)
	assert.Len(t, rec.Messages, 1)
}

// TestHandleDeactivateAndList tests deactivate and list output
func TestHandleDeactivateAndList(t *testing.T) {
	ctx := context.Background()
	m := New(store.NewMemoryStore(), known)
	require.NoError(t, m.Activate(ctx, 1, "error-manager"))
	syncer := &registrytest.Syncer{}
	env := &registry.Env{Gate: &registrytest.Gate{Allow: true}, Commands: syncer}

	req, rec := registrytest.Request(env, 1, registry.Actor{}, ID, registrytest.Sub("list"))
	require.NoError(t, m.HandleCommand(ctx, req))
	assert.Contains(t, rec.Contents()[0], "`error-manager`")

	req, rec = registrytest.Request(env, 1, registry.Actor{}, ID, registrytest.Sub("deactivate", "module", "error-manager"))
	require.NoError(t, m.HandleCommand(ctx, req))
	assert.Equal(t, []string{"error-manager"}, syncer.Dropped)
	assert.Equal(t, []string{"Deactivated `error-manager`."}, rec.Contents())
}

// TestDescribeCommand tests the command offers every activatable module
func TestDescribeCommand(t *testing.T) {
	m := New(store.NewMemoryStore(), append([]string{ID}, known...))
	cmd := m.DescribeCommand(1, registry.New(m).Catalog(nil))
	require.Len(t, cmd.Options, 3)
	choices := cmd.Options[0].Options[0].Choices
	assert.Len(t, choices, len(known))
	for _, c := range choices {
		assert.NotEqual(t, ID, c.Value)
	}
}
