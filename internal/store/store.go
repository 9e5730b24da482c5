// Package store persists one JSON document per (tenant, module) pair. Three
// backends share the Store interface: plain files, SQLite and Badger.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dragon-bot/dragon/pkg/api"
)

// ErrStorage wraps every backend failure: I/O, decode and encode errors.
var ErrStorage = errors.New("storage failure")

// Store keeps per-tenant module documents. Implementations are safe for
// concurrent use; callers serialize writes to one document themselves.
type Store interface {
	// Load decodes the document into v. found is false when none exists,
	// in which case v is left untouched.
	Load(ctx context.Context, tenant api.Snowflake, module string, v any) (found bool, err error)
	// Save replaces the document with v.
	Save(ctx context.Context, tenant api.Snowflake, module string, v any) error
	Ping(ctx context.Context) error
	Close() error
}

// LoadOrDefault returns the stored document, or def when none exists. def is
// decoded into, so pass a fresh value.
func LoadOrDefault[T any](ctx context.Context, s Store, tenant api.Snowflake, module string, def T) (T, error) {
	v := def
	if _, err := s.Load(ctx, tenant, module, &v); err != nil {
		return def, err
	}
	return v, nil
}

func encode(tenant api.Snowflake, module string, v any) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: encode %s/%s: %v", ErrStorage, tenant, module, err)
	}
	return b, nil
}

func decode(tenant api.Snowflake, module string, b []byte, v any) error {
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("%w: decode %s/%s: %v", ErrStorage, tenant, module, err)
	}
	return nil
}

func wrap(op string, tenant api.Snowflake, module string, err error) error {
	return fmt.Errorf("%w: %s %s/%s: %w", ErrStorage, op, tenant, module, err)
}
