// Package permissions decides who may use module operations and hosts the
// permissions manager module that edits grants.
package permissions

import (
	"context"
	"fmt"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/internal/telemetry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// DenialMessage is the ephemeral reply sent when a check fails.
const DenialMessage = "You do not have permission to use this command."

// Gate checks permissions against the tenant's grant table. Administrators
// pass every check.
type Gate struct {
	store store.Store
}

func NewGate(s store.Store) *Gate { return &Gate{store: s} }

// Check reports whether actor holds p in tenant, directly or via a role.
func (g *Gate) Check(ctx context.Context, tenant api.Snowflake, actor registry.Actor, p registry.Permission) (bool, error) {
	if actor.Admin {
		return true, nil
	}
	table, err := loadGrants(ctx, g.store, tenant)
	if err != nil {
		return false, err
	}
	return table.Allows(p.Module, actor.ID, actor.Roles, p.ID), nil
}

// Assert checks p for the requester and sends exactly one denial reply when
// it is missing.
func (g *Gate) Assert(ctx context.Context, req *registry.Request, p registry.Permission) (bool, error) {
	ok, err := g.Check(ctx, req.Tenant, req.Actor, p)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	telemetry.PermissionDenials.WithLabelValues(p.Module, p.ID).Inc()
	req.Log.Info().Str("permission", p.String()).Str("actor", req.Actor.ID.String()).Msg("permission denied")
	if err := req.Reply.Reply(ctx, registry.Message{Content: DenialMessage, Ephemeral: true}); err != nil {
		req.Log.Warn().Err(err).Msg("failed to send permission denial")
	}
	return false, nil
}

func loadGrants(ctx context.Context, s store.Store, tenant api.Snowflake) (api.GrantTable, error) {
	table, err := store.LoadOrDefault(ctx, s, tenant, ID, api.GrantTable{})
	if err != nil {
		return table, fmt.Errorf("load grants for %s: %w", tenant, err)
	}
	return table, nil
}
