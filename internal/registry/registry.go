package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/dragon-bot/dragon/internal/telemetry"
)

// Forever makes Acquire wait until the lock is free or ctx is done.
const Forever time.Duration = -1

// writeWeight is the semaphore weight of a writer. Readers take 1, so a
// writer excludes every reader and readers share.
const writeWeight = 1 << 30

// Mode is the access kind a Holder carries.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "write"
	}
	return "read"
}

type slot struct {
	module Module
	sem    *semaphore.Weighted
	perms  []Permission
	fields []ConfigField
}

// Registry hosts every module behind its own timed reader/writer lock. The
// module set is fixed when the table is built.
type Registry struct {
	once    sync.Once
	factory func() []Module
	slots   map[string]*slot
	ids     []string
}

// New builds a registry from mods right away. Duplicate ids panic.
func New(mods ...Module) *Registry {
	r := &Registry{factory: func() []Module { return mods }}
	r.table()
	return r
}

// NewLazy defers building until first use. factory runs exactly once even
// under concurrent first access; every caller observes the same table.
func NewLazy(factory func() []Module) *Registry {
	return &Registry{factory: factory}
}

func (r *Registry) table() map[string]*slot {
	r.once.Do(func() {
		mods := r.factory()
		r.slots = make(map[string]*slot, len(mods))
		for _, m := range mods {
			id := m.ID()
			if _, dup := r.slots[id]; dup {
				panic(fmt.Sprintf("registry: module %q registered twice", id))
			}
			s := &slot{module: m, sem: semaphore.NewWeighted(writeWeight), perms: m.Permissions()}
			if c, ok := m.(Configurable); ok {
				s.fields = c.ConfigFields()
			}
			r.slots[id] = s
			r.ids = append(r.ids, id)
		}
		sort.Strings(r.ids)
		log.Debug().Int("modules", len(r.ids)).Msg("module registry built")
	})
	return r.slots
}

// IDs returns every hosted module id in sorted order.
func (r *Registry) IDs() []string {
	r.table()
	return append([]string(nil), r.ids...)
}

// Has reports whether id is hosted.
func (r *Registry) Has(id string) bool {
	_, ok := r.table()[id]
	return ok
}

// Permissions returns the permissions module id declared. The list is captured
// at build time, so no lock is taken.
func (r *Registry) Permissions(id string) []Permission {
	if s, ok := r.table()[id]; ok {
		return s.perms
	}
	return nil
}

// ConfigFields returns the editable fields of module id, if it is Configurable.
func (r *Registry) ConfigFields(id string) []ConfigField {
	if s, ok := r.table()[id]; ok {
		return s.fields
	}
	return nil
}

// Catalog returns a describe-time view for a tenant with the given active set.
func (r *Registry) Catalog(active []string) Catalog {
	return catalog{r: r, active: active}
}

type catalog struct {
	r      *Registry
	active []string
}

func (c catalog) Active() []string                     { return c.active }
func (c catalog) Permissions(id string) []Permission   { return c.r.Permissions(id) }
func (c catalog) ConfigFields(id string) []ConfigField { return c.r.ConfigFields(id) }

// AcquireRead takes shared access to module id. A zero timeout tries once, a
// positive one bounds the wait and Forever waits for ctx.
func (r *Registry) AcquireRead(ctx context.Context, id string, timeout time.Duration) (*Holder, error) {
	return r.acquire(ctx, id, Read, timeout)
}

// AcquireWrite takes exclusive access to module id. Timeout semantics match
// AcquireRead.
func (r *Registry) AcquireWrite(ctx context.Context, id string, timeout time.Duration) (*Holder, error) {
	return r.acquire(ctx, id, Write, timeout)
}

func (r *Registry) acquire(ctx context.Context, id string, mode Mode, timeout time.Duration) (*Holder, error) {
	s, ok := r.table()[id]
	if !ok {
		return nil, fmt.Errorf("module %q: %w", id, ErrNotFound)
	}
	weight := int64(1)
	if mode == Write {
		weight = writeWeight
	}
	if err := s.lock(ctx, weight, timeout); err != nil {
		if errors.Is(err, ErrBlocked) {
			telemetry.LockBlocked.WithLabelValues(id, mode.String()).Inc()
		}
		return nil, fmt.Errorf("module %q: %w", id, err)
	}
	return &Holder{slot: s, id: id, mode: mode, weight: weight}, nil
}

func (s *slot) lock(ctx context.Context, weight int64, timeout time.Duration) error {
	switch {
	case timeout == 0:
		if !s.sem.TryAcquire(weight) {
			return ErrBlocked
		}
		return nil
	case timeout < 0:
		return s.sem.Acquire(ctx, weight)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.sem.Acquire(tctx, weight); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBlocked
	}
	return nil
}

// WithRead runs fn with shared access to module id and releases on return.
func (r *Registry) WithRead(ctx context.Context, id string, timeout time.Duration, fn func(Module) error) error {
	h, err := r.AcquireRead(ctx, id, timeout)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Module())
}

// WithWrite runs fn with exclusive access to module id and releases on return.
func (r *Registry) WithWrite(ctx context.Context, id string, timeout time.Duration, fn func(Module) error) error {
	h, err := r.AcquireWrite(ctx, id, timeout)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h.Module())
}

// Holder is a granted slot lock. Release it exactly when done; extra calls
// are no-ops.
type Holder struct {
	slot   *slot
	id     string
	mode   Mode
	weight int64
	once   sync.Once
}

func (h *Holder) ID() string     { return h.id }
func (h *Holder) Mode() Mode     { return h.mode }
func (h *Holder) Module() Module { return h.slot.module }

// Release returns the lock to the slot.
func (h *Holder) Release() {
	h.once.Do(func() { h.slot.sem.Release(h.weight) })
}

// As returns the held module as its concrete type. A mismatch is a
// programming error and panics.
func As[T Module](h *Holder) T {
	m, ok := h.Module().(T)
	if !ok {
		var want T
		panic(fmt.Sprintf("registry: module %q is %T, not %T", h.id, h.Module(), want))
	}
	return m
}
