package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

// ID is the permissions manager's module id and grant document name.
const ID = "permissions-manager"

var PermEdit = registry.Permission{Module: ID, ID: "edit-permissions", Description: "grant and revoke permissions"}

var (
	ErrPermissionNotFound     = errors.New("no such permission")
	ErrPermissionAlreadyGiven = errors.New("permission already granted")
	ErrPermissionNotGiven     = errors.New("permission was not granted")
)

// Manager edits a tenant's grant table.
type Manager struct {
	store store.Store
}

func NewManager(s store.Store) *Manager { return &Manager{store: s} }

func (m *Manager) ID() string { return ID }

func (m *Manager) Permissions() []registry.Permission { return []registry.Permission{PermEdit} }

// Grant gives permission p to target. declared is the owning module's
// permission list; p must be in it.
func (m *Manager) Grant(ctx context.Context, tenant api.Snowflake, p registry.Permission, declared []registry.Permission, target api.Snowflake) error {
	if !declares(declared, p) {
		return fmt.Errorf("%s: %w", p, ErrPermissionNotFound)
	}
	table, err := loadGrants(ctx, m.store, tenant)
	if err != nil {
		return err
	}
	if !table.Grant(p.Module, target, p.ID) {
		return fmt.Errorf("%s: %w", p, ErrPermissionAlreadyGiven)
	}
	return m.save(ctx, tenant, table)
}

// Revoke takes permission p away from target.
func (m *Manager) Revoke(ctx context.Context, tenant api.Snowflake, p registry.Permission, target api.Snowflake) error {
	table, err := loadGrants(ctx, m.store, tenant)
	if err != nil {
		return err
	}
	if !table.Revoke(p.Module, target, p.ID) {
		return fmt.Errorf("%s: %w", p, ErrPermissionNotGiven)
	}
	return m.save(ctx, tenant, table)
}

// Grants lists the permission ids target holds directly in namespace.
func (m *Manager) Grants(ctx context.Context, tenant api.Snowflake, namespace string, target api.Snowflake) ([]string, error) {
	table, err := loadGrants(ctx, m.store, tenant)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), table.Namespaces[namespace][target]...), nil
}

func (m *Manager) save(ctx context.Context, tenant api.Snowflake, table api.GrantTable) error {
	if err := m.store.Save(ctx, tenant, ID, table); err != nil {
		return fmt.Errorf("persist grants: %w", err)
	}
	return nil
}

func declares(list []registry.Permission, p registry.Permission) bool {
	for _, d := range list {
		if d.Equal(p) {
			return true
		}
	}
	return false
}

func names(list []registry.Permission) string {
	ids := make([]string, len(list))
	for i, p := range list {
		ids[i] = p.ID
	}
	return strings.Join(ids, ", ")
}
