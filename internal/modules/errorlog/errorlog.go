// Package errorlog hosts the error manager module: a bounded per-tenant log
// of command failures that administrators can inspect.
package errorlog

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/pkg/api"
)

const ID = "error-manager"

var PermView = registry.Permission{Module: ID, ID: "errors-view", Description: "view recent command failures"}

// DefaultLimit is the number of entries kept per tenant.
const DefaultLimit = 50

// Entry is one recorded failure.
type Entry struct {
	Time    time.Time
	Module  string
	Actor   api.Snowflake
	Message string
}

// Log keeps the newest failures per tenant.
type Log struct {
	limit int
	now   func() time.Time

	mu      sync.Mutex
	entries map[api.Snowflake][]Entry
}

func New(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit, now: time.Now, entries: make(map[api.Snowflake][]Entry)}
}

func (l *Log) ID() string { return ID }

func (l *Log) Permissions() []registry.Permission { return []registry.Permission{PermView} }

// Record appends a failure, evicting the oldest past the limit.
func (l *Log) Record(tenant api.Snowflake, module string, actor api.Snowflake, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := append(l.entries[tenant], Entry{Time: l.now(), Module: module, Actor: actor, Message: err.Error()})
	if len(list) > l.limit {
		list = list[len(list)-l.limit:]
	}
	l.entries[tenant] = list
}

// Recent returns up to n entries, newest first.
func (l *Log) Recent(tenant api.Snowflake, n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	list := l.entries[tenant]
	if n <= 0 || n > len(list) {
		n = len(list)
	}
	out := make([]Entry, 0, n)
	for i := len(list) - 1; i >= len(list)-n; i-- {
		out = append(out, list[i])
	}
	return out
}

func (l *Log) DescribeCommand(api.Snowflake, registry.Catalog) *registry.Command {
	return &registry.Command{
		Name:        ID,
		Description: "Inspect recent command failures",
		Options: []*registry.Option{{
			Type:        registry.OptionSubCommand,
			Name:        "recent",
			Description: "Show the latest failures",
			Options: []*registry.Option{
				{Type: registry.OptionInteger, Name: "count", Description: "How many (default 10)"},
			},
		}},
	}
}

func (l *Log) HandleCommand(ctx context.Context, req *registry.Request) error {
	sub := req.Sub()
	if sub == nil || sub.Name != "recent" {
		return req.Respond(ctx, "Use recent.")
	}
	ok, err := req.Env.Gate.Assert(ctx, req, PermView)
	if err != nil || !ok {
		return err
	}

	n := 10
	if v, ok := sub.Int("count"); ok && v > 0 {
		n = int(v)
	}
	entries := l.Recent(req.Tenant, n)
	if len(entries) == 0 {
		return req.Respond(ctx, "No failures recorded.")
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "<t:%d:R> `%s` by <@%s>: %s\n", e.Time.Unix(), e.Module, e.Actor, e.Message)
	}
	return req.Respond(ctx, b.String())
}
