package registry

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragon-bot/dragon/pkg/api"
)

// Module is a feature unit compiled into the bot. Every module owns exactly
// one top-level command whose name equals its id.
type Module interface {
	// ID is the unique, stable module id.
	ID() string
	// Permissions lists the permissions the module declares. The module id is
	// their namespace.
	Permissions() []Permission
	// DescribeCommand returns the command the module registers for tenant, or
	// nil when it has none.
	DescribeCommand(tenant api.Snowflake, cat Catalog) *Command
	// HandleCommand serves one inbound command addressed to the module.
	HandleCommand(ctx context.Context, req *Request) error
}

// Configurable is implemented by modules with per-tenant settings editable
// through the config manager.
type Configurable interface {
	Module
	// DefaultConfig returns a pointer to a fresh config value with defaults.
	DefaultConfig() any
	ConfigFields() []ConfigField
}

// Permission is a named capability declared by a module.
type Permission struct {
	Module      string
	ID          string
	Description string
}

// Equal compares namespace and id only.
func (p Permission) Equal(o Permission) bool { return p.Module == o.Module && p.ID == o.ID }

func (p Permission) String() string { return p.Module + ":" + p.ID }

// FieldType tells the config manager how to parse a raw value.
type FieldType int

const (
	FieldString FieldType = iota
	FieldInteger
	FieldBoolean
	FieldRole
	FieldUser
	FieldChannel
)

func (t FieldType) String() string {
	switch t {
	case FieldInteger:
		return "integer"
	case FieldBoolean:
		return "boolean"
	case FieldRole:
		return "role"
	case FieldUser:
		return "user"
	case FieldChannel:
		return "channel"
	default:
		return "string"
	}
}

// ConfigField describes one editable setting. Name is the json key. Secret
// values are masked when shown.
type ConfigField struct {
	Name        string
	Type        FieldType
	Description string
	Secret      bool
}

// Catalog is the read-only view a module gets while describing its command.
type Catalog interface {
	// Active lists the module ids active for the tenant being described.
	Active() []string
	Permissions(moduleID string) []Permission
	ConfigFields(moduleID string) []ConfigField
}

// Actor is the user behind an interaction.
type Actor struct {
	ID    api.Snowflake
	Roles []api.Snowflake
	Admin bool
}

// Message is one reply to an interaction.
type Message struct {
	Content   string
	Ephemeral bool
}

// Responder sends replies back to the user who issued a command.
type Responder interface {
	Reply(ctx context.Context, msg Message) error
}

// Gate decides whether the requester of req holds p. When it does not, the
// gate sends exactly one denial reply and returns false.
type Gate interface {
	Assert(ctx context.Context, req *Request, p Permission) (bool, error)
}

// CommandSyncer keeps the remote command set in step with activation changes.
type CommandSyncer interface {
	Register(ctx context.Context, tenant api.Snowflake, moduleID string, active []string) error
	Drop(ctx context.Context, tenant api.Snowflake, moduleID string) error
}

// Env is the shared environment handed to every command handler.
type Env struct {
	Registry *Registry
	Gate     Gate
	Commands CommandSyncer
	// Timeout bounds slot acquisition from inside handlers.
	Timeout time.Duration
}

// Request is one inbound command on its way to a module handler.
type Request struct {
	*Interaction
	Reply Responder
	Env   *Env
	Log   zerolog.Logger
}

// Respond sends an ephemeral reply.
func (r *Request) Respond(ctx context.Context, content string) error {
	return r.Reply.Reply(ctx, Message{Content: content, Ephemeral: true})
}
