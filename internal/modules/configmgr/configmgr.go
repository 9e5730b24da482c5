// Package configmgr hosts the config manager module, which shows and edits
// the per-tenant settings of configurable modules.
package configmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

const ID = "config-manager"

var PermEdit = registry.Permission{Module: ID, ID: "config-edit", Description: "view and change module settings"}

// ErrNotConfigurable is returned for modules without settings.
var ErrNotConfigurable = errors.New("module has no settings")

// FieldError represents a rejected settings change
type FieldError struct {
	Module  string
	Field   string
	Value   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s=%q: %s", e.Module, e.Field, e.Value, e.Message)
}

// Manager reads and writes module settings documents.
type Manager struct {
	store    store.Store
	validate *validator.Validate
}

func New(s store.Store) *Manager {
	return &Manager{store: s, validate: validator.New(validator.WithRequiredStructEnabled())}
}

func (m *Manager) ID() string { return ID }

func (m *Manager) Permissions() []registry.Permission { return []registry.Permission{PermEdit} }

// Show returns target's effective settings: stored values over defaults.
func (m *Manager) Show(ctx context.Context, tenant api.Snowflake, target registry.Configurable) (map[string]any, error) {
	cfg := target.DefaultConfig()
	if _, err := m.store.Load(ctx, tenant, target.ID(), cfg); err != nil {
		return nil, err
	}
	return toDocument(cfg)
}

// Set parses raw for field, validates the resulting settings and saves them.
func (m *Manager) Set(ctx context.Context, tenant api.Snowflake, target registry.Configurable, field, raw string) error {
	fe := &FieldError{Module: target.ID(), Field: field, Value: raw}
	f, ok := findField(target.ConfigFields(), field)
	if !ok {
		fe.Message = "unknown field, expected one of: " + fieldNames(target.ConfigFields())
		return fe
	}
	value, err := ParseValue(f.Type, raw)
	if err != nil {
		fe.Message = err.Error()
		return fe
	}

	doc, err := m.Show(ctx, tenant, target)
	if err != nil {
		return err
	}
	doc[field] = value

	cfg := target.DefaultConfig()
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		fe.Message = "value does not fit the field"
		return fe
	}
	if err := m.validate.Struct(cfg); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			fe.Message = fmt.Sprintf("failed %q check on %s", ve[0].Tag(), ve[0].Field())
		} else {
			fe.Message = err.Error()
		}
		return fe
	}
	return m.store.Save(ctx, tenant, target.ID(), cfg)
}

// ParseValue converts user input to the value stored for a field type.
// Mentions such as <@&123> are accepted for ids.
func ParseValue(t registry.FieldType, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case registry.FieldInteger:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.New("not an integer")
		}
		return v, nil
	case registry.FieldBoolean:
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.New("not a boolean")
		}
		return v, nil
	case registry.FieldRole, registry.FieldUser, registry.FieldChannel:
		id := strings.TrimSuffix(raw, ">")
		for _, prefix := range []string{"<@&", "<@!", "<@", "<#"} {
			if strings.HasPrefix(id, prefix) {
				id = strings.TrimPrefix(id, prefix)
				break
			}
		}
		v, err := api.ParseSnowflake(id)
		if err != nil {
			return nil, fmt.Errorf("not a %s id", t)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func toDocument(cfg any) (map[string]any, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	d := json.NewDecoder(bytes.NewReader(b))
	d.UseNumber()
	if err := d.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func findField(fields []registry.ConfigField, name string) (registry.ConfigField, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return registry.ConfigField{}, false
}

func fieldNames(fields []registry.ConfigField) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
