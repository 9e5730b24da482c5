package permissions

import (
	"context"
	"fmt"
	"strings"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// DescribeCommand builds one subcommand group per active module that declares
// permissions, each with grant, revoke and show.
func (m *Manager) DescribeCommand(tenant api.Snowflake, cat registry.Catalog) *registry.Command {
	cmd := &registry.Command{Name: ID, Description: "Grant and revoke module permissions"}
	for _, id := range cat.Active() {
		perms := cat.Permissions(id)
		if len(perms) == 0 {
			continue
		}
		choices := make([]registry.Choice, len(perms))
		for i, p := range perms {
			choices[i] = registry.Choice{Name: p.ID, Value: p.ID}
		}
		permOpt := &registry.Option{Type: registry.OptionString, Name: "permission", Description: "Permission", Required: true, Choices: choices}
		targetOpt := &registry.Option{Type: registry.OptionMentionable, Name: "target", Description: "User or role", Required: true}

		cmd.Options = append(cmd.Options, &registry.Option{
			Type:        registry.OptionSubCommandGroup,
			Name:        id,
			Description: "Permissions of " + id,
			Options: []*registry.Option{
				{Type: registry.OptionSubCommand, Name: "grant", Description: "Grant a permission", Options: []*registry.Option{permOpt, targetOpt}},
				{Type: registry.OptionSubCommand, Name: "revoke", Description: "Revoke a permission", Options: []*registry.Option{permOpt, targetOpt}},
				{Type: registry.OptionSubCommand, Name: "show", Description: "Show what a user or role holds", Options: []*registry.Option{targetOpt}},
			},
		})
	}
	return cmd
}

func (m *Manager) HandleCommand(ctx context.Context, req *registry.Request) error {
	group := req.Sub()
	action := group.Sub()
	if group == nil || action == nil {
		return req.Respond(ctx, "Pick a module and an action.")
	}
	ok, err := req.Env.Gate.Assert(ctx, req, PermEdit)
	if err != nil || !ok {
		return err
	}

	namespace := group.Name
	declared := req.Env.Registry.Permissions(namespace)
	target, err := action.Snowflake("target")
	if err != nil {
		return err
	}
	mention := action.Get("target").Mention()
	p := registry.Permission{Module: namespace, ID: action.String("permission")}

	switch action.Name {
	case "grant":
		if err := m.Grant(ctx, req.Tenant, p, declared, target); err != nil {
			return err
		}
		return req.Respond(ctx, fmt.Sprintf("Granted `%s` to %s.", p, mention))
	case "revoke":
		if err := m.Revoke(ctx, req.Tenant, p, target); err != nil {
			return err
		}
		return req.Respond(ctx, fmt.Sprintf("Revoked `%s` from %s.", p, mention))
	case "show":
		held, err := m.Grants(ctx, req.Tenant, namespace, target)
		if err != nil {
			return err
		}
		if len(held) == 0 {
			return req.Respond(ctx, fmt.Sprintf("%s holds nothing in `%s` (available: %s).", mention, namespace, names(declared)))
		}
		return req.Respond(ctx, fmt.Sprintf("%s holds in `%s`: %s", mention, namespace, strings.Join(held, ", ")))
	default:
		req.Log.Warn().Str("subcommand", action.Name).Msg("unknown subcommand")
		return nil
	}
}
