package configmgr

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

func (m *Manager) DescribeCommand(tenant api.Snowflake, cat registry.Catalog) *registry.Command {
	var choices []registry.Choice
	for _, id := range cat.Active() {
		if len(cat.ConfigFields(id)) > 0 {
			choices = append(choices, registry.Choice{Name: id, Value: id})
		}
	}
	module := &registry.Option{Type: registry.OptionString, Name: "module", Description: "Module", Required: true, Choices: choices}
	return &registry.Command{
		Name:        ID,
		Description: "View and change module settings",
		Options: []*registry.Option{
			{Type: registry.OptionSubCommand, Name: "show", Description: "Show a module's settings", Options: []*registry.Option{module}},
			{Type: registry.OptionSubCommand, Name: "set", Description: "Change one setting", Options: []*registry.Option{
				module,
				{Type: registry.OptionString, Name: "field", Description: "Setting name", Required: true},
				{Type: registry.OptionString, Name: "value", Description: "New value", Required: true},
			}},
		},
	}
}

func (m *Manager) HandleCommand(ctx context.Context, req *registry.Request) error {
	sub := req.Sub()
	if sub == nil {
		return req.Respond(ctx, "Use show or set.")
	}
	ok, err := req.Env.Gate.Assert(ctx, req, PermEdit)
	if err != nil || !ok {
		return err
	}
	moduleID := sub.String("module")

	switch sub.Name {
	case "show":
		var out string
		err := req.Env.Registry.WithRead(ctx, moduleID, req.Env.Timeout, func(mod registry.Module) error {
			target, ok := mod.(registry.Configurable)
			if !ok {
				return fmt.Errorf("%s: %w", moduleID, ErrNotConfigurable)
			}
			doc, err := m.Show(ctx, req.Tenant, target)
			if err != nil {
				return err
			}
			out = render(moduleID, target.ConfigFields(), doc)
			return nil
		})
		if err != nil {
			return err
		}
		return req.Respond(ctx, out)
	case "set":
		field := sub.String("field")
		err := req.Env.Registry.WithWrite(ctx, moduleID, req.Env.Timeout, func(mod registry.Module) error {
			target, ok := mod.(registry.Configurable)
			if !ok {
				return fmt.Errorf("%s: %w", moduleID, ErrNotConfigurable)
			}
			return m.Set(ctx, req.Tenant, target, field, sub.String("value"))
		})
		if err != nil {
			return err
		}
		return req.Respond(ctx, fmt.Sprintf("Set `%s.%s`.", moduleID, field))
	default:
		req.Log.Warn().Str("subcommand", sub.Name).Msg("unknown subcommand")
		return nil
	}
}

func render(moduleID string, fields []registry.ConfigField, doc map[string]any) string {
	byName := make(map[string]registry.ConfigField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		if _, ok := byName[k]; ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", moduleID)
	for _, k := range keys {
		f := byName[k]
		v := fmt.Sprint(doc[k])
		if f.Secret && v != "" {
			v = "********"
		}
		fmt.Fprintf(&b, "- `%s` (%s) = `%s`: %s\n", k, f.Type, v, f.Description)
	}
	return b.String()
}
