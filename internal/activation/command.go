package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// DescribeCommand builds /module-manager with activate, deactivate and list.
func (m *Manager) DescribeCommand(tenant api.Snowflake, cat registry.Catalog) *registry.Command {
	choices := make([]registry.Choice, 0, len(m.ids))
	for _, id := range m.ids {
		choices = append(choices, registry.Choice{Name: id, Value: id})
	}
	target := func(desc string) []*registry.Option {
		return []*registry.Option{{
			Type:        registry.OptionString,
			Name:        "module",
			Description: desc,
			Required:    true,
			Choices:     choices,
		}}
	}
	return &registry.Command{
		Name:        ID,
		Description: "Manage the modules enabled on this server",
		Options: []*registry.Option{
			{Type: registry.OptionSubCommand, Name: "activate", Description: "Enable a module", Options: target("Module to enable")},
			{Type: registry.OptionSubCommand, Name: "deactivate", Description: "Disable a module", Options: target("Module to disable")},
			{Type: registry.OptionSubCommand, Name: "list", Description: "Show active and available modules"},
		},
	}
}

// HandleCommand runs under the manager's write lock, so activation changes
// from concurrent commands are serialized.
func (m *Manager) HandleCommand(ctx context.Context, req *registry.Request) error {
	sub := req.Sub()
	if sub == nil {
		return req.Respond(ctx, "Use one of: activate, deactivate, list.")
	}

	switch sub.Name {
	case "activate":
		return m.handleActivate(ctx, req, sub.String("module"))
	case "deactivate":
		return m.handleDeactivate(ctx, req, sub.String("module"))
	case "list":
		return req.Respond(ctx, m.render(req.Tenant))
	default:
		req.Log.Warn().Str("subcommand", sub.Name).Msg("unknown subcommand")
		return nil
	}
}

func (m *Manager) handleActivate(ctx context.Context, req *registry.Request, target string) error {
	ok, err := req.Env.Gate.Assert(ctx, req, PermActivate)
	if err != nil || !ok {
		return err
	}
	if err := m.Activate(ctx, req.Tenant, target); err != nil {
		return err
	}
	if err := req.Env.Commands.Register(ctx, req.Tenant, target, m.GetAllActive(req.Tenant)); err != nil {
		req.Log.Error().Err(err).Str("target", target).Msg("failed to register command")
		return req.Respond(ctx, fmt.Sprintf("Activated `%s`, but its command could not be registered: %v", target, err))
	}
	return req.Respond(ctx, fmt.Sprintf("Activated `%s`.", target))
}

func (m *Manager) handleDeactivate(ctx context.Context, req *registry.Request, target string) error {
	ok, err := req.Env.Gate.Assert(ctx, req, PermDeactivate)
	if err != nil || !ok {
		return err
	}
	if err := m.Deactivate(ctx, req.Tenant, target); err != nil {
		return err
	}
	if err := req.Env.Commands.Drop(ctx, req.Tenant, target); err != nil {
		req.Log.Error().Err(err).Str("target", target).Msg("failed to remove command")
		return req.Respond(ctx, fmt.Sprintf("Deactivated `%s`, but its command could not be removed: %v", target, err))
	}
	return req.Respond(ctx, fmt.Sprintf("Deactivated `%s`.", target))
}

func (m *Manager) render(tenant api.Snowflake) string {
	var b strings.Builder
	b.WriteString("**Active modules**\n")
	for _, id := range m.GetAllActive(tenant) {
		fmt.Fprintf(&b, "- `%s`\n", id)
	}
	var inactive []string
	for _, id := range m.ids {
		if !m.IsActive(tenant, id) {
			inactive = append(inactive, id)
		}
	}
	if len(inactive) > 0 {
		b.WriteString("**Available modules**\n")
		for _, id := range inactive {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
	}
	return b.String()
}
