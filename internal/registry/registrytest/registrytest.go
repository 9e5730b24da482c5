// Package registrytest provides in-memory collaborators for handler tests.
package registrytest

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

// Recorder is a Responder that keeps every reply.
type Recorder struct {
	mu       sync.Mutex
	Messages []registry.Message
}

func (r *Recorder) Reply(_ context.Context, msg registry.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Messages = append(r.Messages, msg)
	return nil
}

// Contents returns the text of every reply in order.
func (r *Recorder) Contents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Messages))
	for i, m := range r.Messages {
		out[i] = m.Content
	}
	return out
}

// Gate allows or denies every check and remembers what was asked.
type Gate struct {
	Allow bool
	mu    sync.Mutex
	Asked []registry.Permission
}

func (g *Gate) Assert(ctx context.Context, req *registry.Request, p registry.Permission) (bool, error) {
	g.mu.Lock()
	g.Asked = append(g.Asked, p)
	g.mu.Unlock()
	if !g.Allow {
		return false, req.Reply.Reply(ctx, registry.Message{Content: "denied", Ephemeral: true})
	}
	return true, nil
}

// Syncer records incremental registrations.
type Syncer struct {
	mu         sync.Mutex
	Registered []string
	Dropped    []string
	Err        error
}

func (s *Syncer) Register(_ context.Context, _ api.Snowflake, id string, _ []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Registered = append(s.Registered, id)
	return s.Err
}

func (s *Syncer) Drop(_ context.Context, _ api.Snowflake, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dropped = append(s.Dropped, id)
	return s.Err
}

// Request builds a request for command with a single subcommand.
func Request(env *registry.Env, tenant api.Snowflake, actor registry.Actor, command string, sub *registry.OptionValue) (*registry.Request, *Recorder) {
	rec := &Recorder{}
	in := &registry.Interaction{Tenant: tenant, Actor: actor, Command: command}
	if sub != nil {
		in.Options = []*registry.OptionValue{sub}
	}
	return &registry.Request{Interaction: in, Reply: rec, Env: env, Log: zerolog.Nop()}, rec
}

// Sub builds a subcommand with string options given as name/value pairs.
func Sub(name string, kv ...string) *registry.OptionValue {
	o := &registry.OptionValue{Name: name, Type: registry.OptionSubCommand}
	for i := 0; i+1 < len(kv); i += 2 {
		o.Options = append(o.Options, &registry.OptionValue{Name: kv[i], Type: registry.OptionString, Value: kv[i+1]})
	}
	return o
}
