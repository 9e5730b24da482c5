package commands

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dragon-bot/dragon/internal/activation"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// Operations named in a Failure.
const (
	OpList     = "list"
	OpDelete   = "delete"
	OpDescribe = "describe"
	OpCreate   = "create"
)

// Failure is one command that could not be synchronized.
type Failure struct {
	Command string
	Op      string
	Err     error
}

// Report summarizes a full resync of one tenant.
type Report struct {
	Tenant   api.Snowflake
	Deleted  []string
	Created  []string
	Failures []Failure
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool { return len(r.Failures) == 0 }

func (r *Report) fail(command, op string, err error) {
	r.Failures = append(r.Failures, Failure{Command: command, Op: op, Err: err})
	log.Warn().Err(err).Str("tenant", r.Tenant.String()).Str("command", command).Str("op", op).Msg("command sync step failed")
}

// Synchronizer rebuilds and incrementally edits tenants' remote command sets.
type Synchronizer struct {
	reg         *registry.Registry
	remote      Remote
	timeout     time.Duration
	concurrency int
}

// New creates a synchronizer. timeout bounds each module read lock taken to
// describe a command; concurrency bounds parallel tenant resyncs.
func New(reg *registry.Registry, remote Remote, timeout time.Duration, concurrency int) *Synchronizer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Synchronizer{reg: reg, remote: remote, timeout: timeout, concurrency: concurrency}
}

// ResyncAll resyncs every tenant while holding the module manager's write
// lock, so activation cannot change underneath. Each tenant gets a report
// even when some of its steps fail.
func (s *Synchronizer) ResyncAll(ctx context.Context, tenants []api.Snowflake) (map[api.Snowflake]*Report, error) {
	h, err := s.reg.AcquireWrite(ctx, activation.ID, registry.Forever)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return s.ResyncHeld(ctx, registry.As[*activation.Manager](h), tenants), nil
}

// ResyncHeld resyncs tenants using a manager the caller already holds.
func (s *Synchronizer) ResyncHeld(ctx context.Context, mgr *activation.Manager, tenants []api.Snowflake) map[api.Snowflake]*Report {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		reports = make(map[api.Snowflake]*Report, len(tenants))
	)
	g.SetLimit(s.concurrency)
	for _, tenant := range tenants {
		tenant := tenant
		g.Go(func() error {
			rep := s.Resync(ctx, mgr, tenant)
			mu.Lock()
			reports[tenant] = rep
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Resync deletes every remote command of tenant, then creates one per
// active module. The caller must hold mgr. Failures are recorded and the
// remaining steps still run.
func (s *Synchronizer) Resync(ctx context.Context, mgr *activation.Manager, tenant api.Snowflake) *Report {
	rep := &Report{Tenant: tenant}

	existing, err := s.remote.List(ctx, tenant)
	if err != nil {
		rep.fail("*", OpList, err)
	}
	for _, c := range existing {
		if err := s.remote.Delete(ctx, tenant, c.ID); err != nil {
			rep.fail(c.Name, OpDelete, err)
			continue
		}
		rep.Deleted = append(rep.Deleted, c.Name)
	}

	active := mgr.GetAllActive(tenant)
	cat := s.reg.Catalog(active)
	for _, id := range active {
		var cmd *registry.Command
		if id == activation.ID {
			cmd = mgr.DescribeCommand(tenant, cat)
		} else {
			h, err := s.reg.AcquireRead(ctx, id, s.timeout)
			if err != nil {
				rep.fail(id, OpDescribe, err)
				continue
			}
			cmd = h.Module().DescribeCommand(tenant, cat)
			h.Release()
		}
		if cmd == nil {
			continue
		}
		if _, err := s.remote.Create(ctx, tenant, cmd); err != nil {
			rep.fail(cmd.Name, OpCreate, err)
			continue
		}
		rep.Created = append(rep.Created, cmd.Name)
	}

	log.Info().
		Str("tenant", tenant.String()).
		Int("deleted", len(rep.Deleted)).
		Int("created", len(rep.Created)).
		Int("failed", len(rep.Failures)).
		Msg("commands resynchronized")
	return rep
}

// Register creates module id's command for tenant. active is the tenant's
// current active list, used by descriptors that depend on it.
func (s *Synchronizer) Register(ctx context.Context, tenant api.Snowflake, id string, active []string) error {
	h, err := s.reg.AcquireRead(ctx, id, s.timeout)
	if err != nil {
		return err
	}
	cmd := h.Module().DescribeCommand(tenant, s.reg.Catalog(active))
	h.Release()
	if cmd == nil {
		return nil
	}
	if _, err := s.remote.Create(ctx, tenant, cmd); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	return nil
}

// Drop deletes the remote command named id, if present.
func (s *Synchronizer) Drop(ctx context.Context, tenant api.Snowflake, id string) error {
	existing, err := s.remote.List(ctx, tenant)
	if err != nil {
		return fmt.Errorf("drop %s: %w", id, err)
	}
	for _, c := range existing {
		if c.Name != id {
			continue
		}
		if err := s.remote.Delete(ctx, tenant, c.ID); err != nil {
			return fmt.Errorf("drop %s: %w", id, err)
		}
	}
	return nil
}
