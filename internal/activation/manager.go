// Package activation implements the module manager: the always-active module
// that owns each tenant's list of enabled modules.
package activation

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// ID is the module manager's module id. It is always active and never listed
// in a persisted record.
const ID = "module-manager"

var (
	PermActivate   = registry.Permission{Module: ID, ID: "module-activate", Description: "activate modules"}
	PermDeactivate = registry.Permission{Module: ID, ID: "module-deactivate", Description: "deactivate modules"}
)

// Manager tracks which modules each tenant has enabled. Callers hold the
// manager's registry slot: read for queries, write for anything that mutates.
type Manager struct {
	store store.Store
	known map[string]bool
	ids   []string

	mu     sync.RWMutex
	active map[api.Snowflake][]string
}

// New creates a manager aware of the given module ids.
func New(s store.Store, known []string) *Manager {
	m := &Manager{store: s, known: make(map[string]bool), active: make(map[api.Snowflake][]string)}
	for _, id := range known {
		if id == ID || m.known[id] {
			continue
		}
		m.known[id] = true
		m.ids = append(m.ids, id)
	}
	sort.Strings(m.ids)
	return m
}

func (m *Manager) ID() string { return ID }

func (m *Manager) Permissions() []registry.Permission {
	return []registry.Permission{PermActivate, PermDeactivate}
}

// IsActive reports whether id is enabled for tenant. The module manager is
// always active; unknown tenants have nothing else active.
func (m *Manager) IsActive(tenant api.Snowflake, id string) bool {
	if id == ID {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.active[tenant] {
		if a == id {
			return true
		}
	}
	return false
}

// GetAllActive returns the tenant's record plus the module manager, sorted.
// The slice is a copy.
func (m *Manager) GetAllActive(tenant api.Snowflake) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.active[tenant])+1)
	out = append(out, ID)
	out = append(out, m.active[tenant]...)
	sort.Strings(out)
	return out
}

// Known reports whether tenant's record has been loaded.
func (m *Manager) Known(tenant api.Snowflake) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[tenant]
	return ok
}

// Tenants returns every loaded tenant, sorted.
func (m *Manager) Tenants() []api.Snowflake {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]api.Snowflake, 0, len(m.active))
	for t := range m.active {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Activatable lists every module id a tenant may activate.
func (m *Manager) Activatable() []string { return append([]string(nil), m.ids...) }

// Activate enables id for tenant. The record is persisted before memory
// changes, so a failed write leaves the tenant as it was.
func (m *Manager) Activate(ctx context.Context, tenant api.Snowflake, id string) error {
	if id != ID && !m.known[id] {
		return fmt.Errorf("module %q: %w", id, registry.ErrNotFound)
	}
	if err := m.ensure(ctx, tenant); err != nil {
		return err
	}
	if m.IsActive(tenant, id) {
		return fmt.Errorf("module %q: %w", id, registry.ErrAlreadyActive)
	}

	m.mu.RLock()
	next := append(append([]string(nil), m.active[tenant]...), id)
	m.mu.RUnlock()

	if err := m.store.Save(ctx, tenant, ID, api.ActivationRecord(next)); err != nil {
		return fmt.Errorf("persist active modules: %w", err)
	}
	m.set(tenant, next)
	telemetry.ActivationChanges.WithLabelValues(id, "activate").Inc()
	log.Info().Str("tenant", tenant.String()).Str("module", id).Msg("module activated")
	return nil
}

// Deactivate disables id for tenant. The module manager cannot be
// deactivated.
func (m *Manager) Deactivate(ctx context.Context, tenant api.Snowflake, id string) error {
	if id == ID {
		return registry.ErrCannotDeactivateSelf
	}
	if !m.known[id] {
		return fmt.Errorf("module %q: %w", id, registry.ErrNotFound)
	}
	if err := m.ensure(ctx, tenant); err != nil {
		return err
	}
	if !m.IsActive(tenant, id) {
		return fmt.Errorf("module %q: %w", id, registry.ErrAlreadyInactive)
	}

	m.mu.RLock()
	next := make([]string, 0, len(m.active[tenant]))
	for _, a := range m.active[tenant] {
		if a != id {
			next = append(next, a)
		}
	}
	m.mu.RUnlock()

	if err := m.store.Save(ctx, tenant, ID, api.ActivationRecord(next)); err != nil {
		return fmt.Errorf("persist active modules: %w", err)
	}
	m.set(tenant, next)
	telemetry.ActivationChanges.WithLabelValues(id, "deactivate").Inc()
	log.Info().Str("tenant", tenant.String()).Str("module", id).Msg("module deactivated")
	return nil
}

// InitTenant loads tenant's record. A missing record means only the module
// manager is active; nothing is written until the first change. Unknown and
// duplicate ids in the record are dropped.
func (m *Manager) InitTenant(ctx context.Context, tenant api.Snowflake) error {
	list, err := m.load(ctx, tenant)
	if err != nil {
		return err
	}
	m.set(tenant, list)
	return nil
}

// InitTenants loads every tenant concurrently, at most limit at a time. The
// returned map holds only the tenants that failed.
func (m *Manager) InitTenants(ctx context.Context, tenants []api.Snowflake, limit int) map[api.Snowflake]error {
	var (
		g    errgroup.Group
		emu  sync.Mutex
		errs = make(map[api.Snowflake]error)
	)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			if err := m.InitTenant(ctx, tenant); err != nil {
				log.Error().Err(err).Str("tenant", tenant.String()).Msg("failed to load active modules")
				emu.Lock()
				errs[tenant] = err
				emu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (m *Manager) ensure(ctx context.Context, tenant api.Snowflake) error {
	if m.Known(tenant) {
		return nil
	}
	return m.InitTenant(ctx, tenant)
}

func (m *Manager) load(ctx context.Context, tenant api.Snowflake) ([]string, error) {
	var rec api.ActivationRecord
	found, err := m.store.Load(ctx, tenant, ID, &rec)
	if err != nil {
		return nil, fmt.Errorf("load active modules for %s: %w", tenant, err)
	}
	if !found {
		log.Debug().Str("tenant", tenant.String()).Msg("no active module record, starting empty")
		return []string{}, nil
	}

	seen := make(map[string]bool, len(rec))
	list := make([]string, 0, len(rec))
	for _, id := range rec {
		switch {
		case id == ID || seen[id]:
			continue
		case !m.known[id]:
			log.Warn().Str("tenant", tenant.String()).Str("module", id).Msg("dropping unknown module from active record")
			continue
		}
		seen[id] = true
		list = append(list, id)
	}
	return list, nil
}

func (m *Manager) set(tenant api.Snowflake, list []string) {
	m.mu.Lock()
	m.active[tenant] = list
	n := len(m.active)
	m.mu.Unlock()
	telemetry.TenantsInitialized.Set(float64(n))
}
