// Package dbbridge hosts the database bridge module: a per-tenant SQL
// connection other modules borrow through the registry.
package dbbridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

const ID = "database-bridge"

var PermStatus = registry.Permission{Module: ID, ID: "database-status", Description: "check the database connection"}

// ErrNotConfigured is returned when a tenant has no driver or DSN set.
var ErrNotConfigured = errors.New("database bridge is not configured")

// Config is the per-tenant connection setting.
type Config struct {
	Driver       string `json:"driver" validate:"omitempty,oneof=mysql sqlite"`
	DSN          string `json:"dsn"`
	MaxOpenConns int    `json:"max_open_conns" validate:"gte=0,lte=50"`
}

type pool struct {
	cfg Config
	db  *sqlx.DB
}

// Bridge opens connections lazily and reopens them when settings change.
type Bridge struct {
	store store.Store

	mu    sync.Mutex
	pools map[api.Snowflake]*pool
}

func New(s store.Store) *Bridge {
	return &Bridge{store: s, pools: make(map[api.Snowflake]*pool)}
}

func (b *Bridge) ID() string { return ID }

func (b *Bridge) Permissions() []registry.Permission { return []registry.Permission{PermStatus} }

func (b *Bridge) DefaultConfig() any { return &Config{MaxOpenConns: 4} }

func (b *Bridge) ConfigFields() []registry.ConfigField {
	return []registry.ConfigField{
		{Name: "driver", Type: registry.FieldString, Description: "mysql or sqlite"},
		{Name: "dsn", Type: registry.FieldString, Description: "data source name", Secret: true},
		{Name: "max_open_conns", Type: registry.FieldInteger, Description: "connection pool size"},
	}
}

// DB returns the tenant's connection pool, opening it on first use.
func (b *Bridge) DB(ctx context.Context, tenant api.Snowflake) (*sqlx.DB, error) {
	cfg, err := store.LoadOrDefault(ctx, b.store, tenant, ID, *b.DefaultConfig().(*Config))
	if err != nil {
		return nil, err
	}
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, ErrNotConfigured
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.pools[tenant]; ok {
		if p.cfg == cfg {
			return p.db, nil
		}
		log.Info().Str("tenant", tenant.String()).Msg("database settings changed, reconnecting")
		p.db.Close()
		delete(b.pools, tenant)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	b.pools[tenant] = &pool{cfg: cfg, db: db}
	return db, nil
}

// Close closes every open pool.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for tenant, p := range b.pools {
		errs = append(errs, p.db.Close())
		delete(b.pools, tenant)
	}
	return errors.Join(errs...)
}

func (b *Bridge) DescribeCommand(api.Snowflake, registry.Catalog) *registry.Command {
	return &registry.Command{
		Name:        ID,
		Description: "External database connection",
		Options: []*registry.Option{
			{Type: registry.OptionSubCommand, Name: "status", Description: "Check the connection"},
		},
	}
}

func (b *Bridge) HandleCommand(ctx context.Context, req *registry.Request) error {
	sub := req.Sub()
	if sub == nil || sub.Name != "status" {
		return req.Respond(ctx, "Use status.")
	}
	ok, err := req.Env.Gate.Assert(ctx, req, PermStatus)
	if err != nil || !ok {
		return err
	}
	db, err := b.DB(ctx, req.Tenant)
	if errors.Is(err, ErrNotConfigured) {
		return req.Respond(ctx, "Not configured. Set `driver` and `dsn` with /config-manager.")
	}
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", db.DriverName(), err)
	}
	return req.Respond(ctx, fmt.Sprintf("Connected (%s).", db.DriverName()))
}
