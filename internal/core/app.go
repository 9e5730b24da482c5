// Package core wires the module host together: configuration, storage, the
// module registry and the command dispatcher.
package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dragon-bot/dragon/internal/activation"
	"github.com/dragon-bot/dragon/internal/commands"
	"github.com/dragon-bot/dragon/internal/modules"
	"github.com/dragon-bot/dragon/internal/modules/dbbridge"
	"github.com/dragon-bot/dragon/internal/permissions"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// ErrOffline is returned by operations that need the remote command registry
// when the app was built without one.
var ErrOffline = errors.New("no remote command registry configured")

// App is the running module host.
type App struct {
	cfg      Config
	store    store.Store
	registry *registry.Registry
	syncer   *commands.Synchronizer
	env      *registry.Env
}

// NewApp wires every built-in module around st. remote may be nil, in which
// case activation changes are persisted but no commands are synchronized.
func NewApp(cfg Config, st store.Store, remote commands.Remote) *App {
	a := &App{cfg: cfg, store: st}
	a.registry = registry.NewLazy(func() []registry.Module {
		feature := modules.Builtin(st, cfg.Modules.ErrorLogSize)
		ids := make([]string, 0, len(feature))
		for _, m := range feature {
			ids = append(ids, m.ID())
		}
		return append([]registry.Module{activation.New(st, ids)}, feature...)
	})

	var cmdSync registry.CommandSyncer = offlineSyncer{}
	if remote != nil {
		retry := commands.DefaultRetryConfig()
		retry.MaxRetries = cfg.Resync.Retries
		remote = commands.NewRetrying(remote, retry, cfg.Resync.RequestsPerSecond)
		a.syncer = commands.New(a.registry, remote, cfg.Modules.LockTimeout, cfg.Resync.Concurrency)
		cmdSync = a.syncer
	}
	a.env = &registry.Env{
		Registry: a.registry,
		Gate:     permissions.NewGate(st),
		Commands: cmdSync,
		Timeout:  cfg.Modules.LockTimeout,
	}
	return a
}

func (a *App) Registry() *registry.Registry { return a.registry }

// Start loads every tenant and rebuilds its remote commands. Tenants whose
// record cannot be read are skipped and logged.
func (a *App) Start(ctx context.Context, tenants []api.Snowflake) error {
	start := time.Now()
	reports, err := a.Resync(ctx, tenants)
	if err != nil && !errors.Is(err, ErrOffline) {
		return err
	}
	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	log.Info().
		Int("tenants", len(tenants)).
		Int("sync_failures", failed).
		Dur("elapsed", time.Since(start)).
		Msg("module host started")
	return nil
}

// Resync loads unknown tenants and rebuilds their remote command sets under
// the module manager's write lock.
func (a *App) Resync(ctx context.Context, tenants []api.Snowflake) (map[api.Snowflake]*commands.Report, error) {
	h, err := a.registry.AcquireWrite(ctx, activation.ID, registry.Forever)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	mgr := registry.As[*activation.Manager](h)

	var load []api.Snowflake
	for _, t := range tenants {
		if !mgr.Known(t) {
			load = append(load, t)
		}
	}
	failed := mgr.InitTenants(ctx, load, a.cfg.Resync.Concurrency)
	ready := make([]api.Snowflake, 0, len(tenants))
	for _, t := range tenants {
		if _, bad := failed[t]; !bad {
			ready = append(ready, t)
		}
	}

	if a.syncer == nil {
		return nil, ErrOffline
	}
	return a.syncer.ResyncHeld(ctx, mgr, ready), nil
}

// AddTenant initializes a tenant that joined after startup. Known tenants
// are left alone.
func (a *App) AddTenant(ctx context.Context, tenant api.Snowflake) error {
	h, err := a.registry.AcquireWrite(ctx, activation.ID, registry.Forever)
	if err != nil {
		return err
	}
	defer h.Release()
	mgr := registry.As[*activation.Manager](h)
	if mgr.Known(tenant) {
		return nil
	}
	if err := mgr.InitTenant(ctx, tenant); err != nil {
		return err
	}
	if a.syncer != nil {
		if rep := a.syncer.Resync(ctx, mgr, tenant); !rep.OK() {
			return fmt.Errorf("resync %s: %d step(s) failed", tenant, len(rep.Failures))
		}
	}
	return nil
}

// Activate enables a module outside of a chat command and registers its
// command when a remote registry is configured.
func (a *App) Activate(ctx context.Context, tenant api.Snowflake, id string) error {
	return a.registry.WithWrite(ctx, activation.ID, a.cfg.Modules.LockTimeout, func(m registry.Module) error {
		mgr := m.(*activation.Manager)
		if err := mgr.Activate(ctx, tenant, id); err != nil {
			return err
		}
		if err := a.env.Commands.Register(ctx, tenant, id, mgr.GetAllActive(tenant)); err != nil {
			return fmt.Errorf("activated %s, but registering its command failed: %w", id, err)
		}
		return nil
	})
}

// Deactivate disables a module and removes its command.
func (a *App) Deactivate(ctx context.Context, tenant api.Snowflake, id string) error {
	return a.registry.WithWrite(ctx, activation.ID, a.cfg.Modules.LockTimeout, func(m registry.Module) error {
		mgr := m.(*activation.Manager)
		if err := mgr.Deactivate(ctx, tenant, id); err != nil {
			return err
		}
		if err := a.env.Commands.Drop(ctx, tenant, id); err != nil {
			return fmt.Errorf("deactivated %s, but removing its command failed: %w", id, err)
		}
		return nil
	})
}

// Active returns the tenant's active modules, loading its record if needed.
func (a *App) Active(ctx context.Context, tenant api.Snowflake) ([]string, error) {
	var out []string
	err := a.registry.WithWrite(ctx, activation.ID, a.cfg.Modules.LockTimeout, func(m registry.Module) error {
		mgr := m.(*activation.Manager)
		if !mgr.Known(tenant) {
			if err := mgr.InitTenant(ctx, tenant); err != nil {
				return err
			}
		}
		out = mgr.GetAllActive(tenant)
		return nil
	})
	return out, err
}

// HealthChecks returns probes for the monitoring server.
func (a *App) HealthChecks() map[string]func() telemetry.HealthCheck {
	return map[string]func() telemetry.HealthCheck{
		"store": func() telemetry.HealthCheck {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return telemetry.FromError(a.store.Ping(ctx), "store reachable")
		},
	}
}

// Close releases module resources and the store.
func (a *App) Close() error {
	var errs []error
	if a.registry.Has(dbbridge.ID) {
		errs = append(errs, a.registry.WithWrite(context.Background(), dbbridge.ID, registry.Forever, func(m registry.Module) error {
			return m.(*dbbridge.Bridge).Close()
		}))
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

type offlineSyncer struct{}

func (offlineSyncer) Register(context.Context, api.Snowflake, string, []string) error { return nil }
func (offlineSyncer) Drop(context.Context, api.Snowflake, string) error               { return nil }
