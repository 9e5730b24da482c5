// Package tgverify hosts the account-link lookup module. It reads a game
// server's link table through the database bridge.
package tgverify

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/dragon-bot/dragon/internal/modules/dbbridge"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

const ID = "tg-verify"

var PermLookup = registry.Permission{Module: ID, ID: "verify-lookup", Description: "look up account links"}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config is the per-tenant verification setting.
type Config struct {
	LinksTable            string        `json:"discord_links_table" validate:"required,max=64"`
	VerifiedRole          api.Snowflake `json:"role_verified_linked"`
	LivingRole            api.Snowflake `json:"role_verified_living"`
	LivingMinutesRequired int           `json:"living_minutes_required" validate:"gte=0"`
}

// Link is one row of the link table.
type Link struct {
	ID        uint64 `db:"id"`
	CKey      string `db:"ckey"`
	DiscordID uint64 `db:"discord_id"`
	Valid     bool   `db:"valid"`
}

type Verifier struct {
	store store.Store
}

func New(s store.Store) *Verifier { return &Verifier{store: s} }

func (v *Verifier) ID() string { return ID }

func (v *Verifier) Permissions() []registry.Permission { return []registry.Permission{PermLookup} }

func (v *Verifier) DefaultConfig() any {
	return &Config{LinksTable: "discord_links", LivingMinutesRequired: 60}
}

func (v *Verifier) ConfigFields() []registry.ConfigField {
	return []registry.ConfigField{
		{Name: "discord_links_table", Type: registry.FieldString, Description: "table holding account links"},
		{Name: "role_verified_linked", Type: registry.FieldRole, Description: "role for linked accounts"},
		{Name: "role_verified_living", Type: registry.FieldRole, Description: "role for accounts with enough playtime"},
		{Name: "living_minutes_required", Type: registry.FieldInteger, Description: "playtime needed for the living role"},
	}
}

// ByCKey returns links for a game account, newest first.
func ByCKey(ctx context.Context, db *sqlx.DB, table, ckey string) ([]Link, error) {
	return lookup(ctx, db, table, "ckey", normalizeCKey(ckey))
}

// ByDiscordID returns links for a chat account, newest first.
func ByDiscordID(ctx context.Context, db *sqlx.DB, table string, id api.Snowflake) ([]Link, error) {
	return lookup(ctx, db, table, "discord_id", uint64(id))
}

func lookup(ctx context.Context, db *sqlx.DB, table, column string, value any) ([]Link, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	query := fmt.Sprintf("SELECT id, ckey, discord_id, valid FROM %s WHERE %s = ? ORDER BY id DESC", table, column)
	var links []Link
	if err := db.SelectContext(ctx, &links, db.Rebind(query), value); err != nil {
		return nil, fmt.Errorf("lookup by %s: %w", column, err)
	}
	return links, nil
}

// normalizeCKey lowercases and strips everything but letters and digits, the
// canonical form of a game account key.
func normalizeCKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(key) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (v *Verifier) DescribeCommand(api.Snowflake, registry.Catalog) *registry.Command {
	return &registry.Command{
		Name:        ID,
		Description: "Game account links",
		Options: []*registry.Option{{
			Type:        registry.OptionSubCommand,
			Name:        "lookup",
			Description: "Find links by game key or user",
			Options: []*registry.Option{
				{Type: registry.OptionString, Name: "ckey", Description: "Game account key"},
				{Type: registry.OptionUser, Name: "user", Description: "Chat user"},
			},
		}},
	}
}

func (v *Verifier) HandleCommand(ctx context.Context, req *registry.Request) error {
	sub := req.Sub()
	if sub == nil || sub.Name != "lookup" {
		return req.Respond(ctx, "Use lookup.")
	}
	ok, err := req.Env.Gate.Assert(ctx, req, PermLookup)
	if err != nil || !ok {
		return err
	}
	ckey, user := sub.String("ckey"), sub.Get("user")
	if ckey == "" && user == nil {
		return req.Respond(ctx, "Give a ckey or a user.")
	}

	cfg, err := store.LoadOrDefault(ctx, v.store, req.Tenant, ID, *v.DefaultConfig().(*Config))
	if err != nil {
		return err
	}

	var links []Link
	err = req.Env.Registry.WithRead(ctx, dbbridge.ID, req.Env.Timeout, func(mod registry.Module) error {
		db, err := mod.(*dbbridge.Bridge).DB(ctx, req.Tenant)
		if err != nil {
			return err
		}
		if ckey != "" {
			links, err = ByCKey(ctx, db, cfg.LinksTable, ckey)
			return err
		}
		id, err := api.ParseSnowflake(user.Value)
		if err != nil {
			return err
		}
		links, err = ByDiscordID(ctx, db, cfg.LinksTable, id)
		return err
	})
	if errors.Is(err, dbbridge.ErrNotConfigured) {
		return req.Respond(ctx, "The database bridge is not configured.")
	}
	if err != nil {
		return err
	}
	return req.Respond(ctx, render(links))
}

func render(links []Link) string {
	if len(links) == 0 {
		return "No links found."
	}
	var b strings.Builder
	for _, l := range links {
		state := "invalid"
		if l.Valid {
			state = "valid"
		}
		fmt.Fprintf(&b, "- `%s` <-> <@%d> (%s, #%d)\n", l.CKey, l.DiscordID, state, l.ID)
	}
	return b.String()
}
