// Package commands keeps each tenant's remote command set consistent with
// its active modules.
package commands

import (
	"context"
	"fmt"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// Registered is a command as the remote registry knows it.
type Registered struct {
	ID   string
	Name string
}

// Remote is the platform's per-tenant command registry.
type Remote interface {
	List(ctx context.Context, tenant api.Snowflake) ([]Registered, error)
	Create(ctx context.Context, tenant api.Snowflake, cmd *registry.Command) (Registered, error)
	Delete(ctx context.Context, tenant api.Snowflake, commandID string) error
}

// StatusError carries the HTTP status of a failed remote call.
type StatusError struct {
	Status int
	Err    error
}

func (e *StatusError) Error() string { return fmt.Sprintf("status %d: %v", e.Status, e.Err) }

func (e *StatusError) Unwrap() error { return e.Err }
