package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dragon-bot/dragon/internal/activation"
	"github.com/dragon-bot/dragon/internal/registry"
	"github.com/dragon-bot/dragon/internal/store"
	"github.com/dragon-bot/dragon/pkg/api"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRemote is an in-memory command registry with per-name failures.
type fakeRemote struct {
	mu         sync.Mutex
	next       int
	cmds       map[api.Snowflake]map[string]string // id -> name
	failCreate map[string]error
	failDelete map[string]error
	failList   error
	calls      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{cmds: map[api.Snowflake]map[string]string{}, failCreate: map[string]error{}, failDelete: map[string]error{}}
}

func (f *fakeRemote) List(_ context.Context, tenant api.Snowflake) ([]Registered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failList != nil {
		return nil, f.failList
	}
	var out []Registered
	for id, name := range f.cmds[tenant] {
		out = append(out, Registered{ID: id, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeRemote) Create(_ context.Context, tenant api.Snowflake, cmd *registry.Command) (Registered, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failCreate[cmd.Name]; err != nil {
		return Registered{}, err
	}
	if f.cmds[tenant] == nil {
		f.cmds[tenant] = map[string]string{}
	}
	for id, name := range f.cmds[tenant] {
		if name == cmd.Name {
			delete(f.cmds[tenant], id)
		}
	}
	f.next++
	id := fmt.Sprint(f.next)
	f.cmds[tenant][id] = cmd.Name
	return Registered{ID: id, Name: cmd.Name}, nil
}

func (f *fakeRemote) Delete(_ context.Context, tenant api.Snowflake, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.failDelete[f.cmds[tenant][id]]; err != nil {
		return err
	}
	delete(f.cmds[tenant], id)
	return nil
}

func (f *fakeRemote) names(tenant api.Snowflake) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, n := range f.cmds[tenant] {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type stubModule struct{ id string }

func (s *stubModule) ID() string                                             { return s.id }
func (s *stubModule) Permissions() []registry.Permission                     { return nil }
func (s *stubModule) HandleCommand(context.Context, *registry.Request) error { return nil }
func (s *stubModule) DescribeCommand(api.Snowflake, registry.Catalog) *registry.Command {
	if s.id == "silent" {
		return nil
	}
	return &registry.Command{Name: s.id, Description: s.id}
}

func setup(t *testing.T) (*registry.Registry, *activation.Manager, *fakeRemote, *Synchronizer) {
	t.Helper()
	ids := []string{"alpha", "beta", "silent"}
	mgr := activation.New(store.NewMemoryStore(), ids)
	reg := registry.New(mgr, &stubModule{id: "alpha"}, &stubModule{id: "beta"}, &stubModule{id: "silent"})
	remote := newFakeRemote()
	return reg, mgr, remote, New(reg, remote, 0, 4)
}

// TestResyncReplacesEverything tests that stale commands are removed and active ones created
func TestResyncReplacesEverything(t *testing.T) {
	ctx := context.Background()
	_, mgr, remote, s := setup(t)
	require.NoError(t, mgr.Activate(ctx, 1, "alpha"))
	require.NoError(t, mgr.Activate(ctx, 1, "silent"))
	_, err := remote.Create(ctx, 1, &registry.Command{Name: "retired"})
	require.NoError(t, err)
	_, err = remote.Create(ctx, 1, &registry.Command{Name: "beta"})
	require.NoError(t, err)

	rep := s.Resync(ctx, mgr, 1)
	assert.True(t, rep.OK())
	assert.ElementsMatch(t, []string{"retired", "beta"}, rep.Deleted)
	assert.Equal(t, []string{"alpha", activation.ID}, rep.Created)
	assert.Equal(t, []string{"alpha", activation.ID}, remote.names(1))
}

// TestResyncPartialFailure tests that one failing create does not stop the others
func TestResyncPartialFailure(t *testing.T) {
	ctx := context.Background()
	_, mgr, remote, s := setup(t)
	require.NoError(t, mgr.Activate(ctx, 1, "alpha"))
	require.NoError(t, mgr.Activate(ctx, 1, "beta"))
	_, err := remote.Create(ctx, 1, &registry.Command{Name: "stuck"})
	require.NoError(t, err)
	remote.failCreate["alpha"] = &StatusError{Status: 400, Err: errors.New("bad option")}
	remote.failDelete["stuck"] = errors.New("gone away")

	rep := s.Resync(ctx, mgr, 1)
	assert.False(t, rep.OK())
	require.Len(t, rep.Failures, 2)
	assert.Equal(t, Failure{Command: "stuck", Op: OpDelete, Err: remote.failDelete["stuck"]}, rep.Failures[0])
	assert.Equal(t, "alpha", rep.Failures[1].Command)
	assert.Equal(t, OpCreate, rep.Failures[1].Op)
	assert.Equal(t, []string{"beta", activation.ID}, rep.Created)
}

// TestResyncListFailure tests that creation proceeds when listing fails
func TestResyncListFailure(t *testing.T) {
	ctx := context.Background()
	_, mgr, remote, s := setup(t)
	remote.failList = errors.New("timeout")

	rep := s.Resync(ctx, mgr, 1)
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, OpList, rep.Failures[0].Op)
	assert.Equal(t, []string{activation.ID}, rep.Created)
}

// TestResyncBusyModule tests that a write-held module is reported, not waited on
func TestResyncBusyModule(t *testing.T) {
	ctx := context.Background()
	reg, mgr, _, s := setup(t)
	require.NoError(t, mgr.Activate(ctx, 1, "alpha"))

	h, err := reg.AcquireWrite(ctx, "alpha", 0)
	require.NoError(t, err)
	defer h.Release()

	rep := s.Resync(ctx, mgr, 1)
	require.Len(t, rep.Failures, 1)
	assert.ErrorIs(t, rep.Failures[0].Err, registry.ErrBlocked)
	assert.Equal(t, []string{activation.ID}, rep.Created)
}

// TestResyncAll tests fan-out over tenants under the manager write lock
func TestResyncAll(t *testing.T) {
	ctx := context.Background()
	reg, mgr, remote, s := setup(t)
	require.NoError(t, mgr.Activate(ctx, 1, "alpha"))
	require.NoError(t, mgr.Activate(ctx, 2, "beta"))

	reports, err := s.ResyncAll(ctx, []api.Snowflake{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, []string{"alpha", activation.ID}, remote.names(1))
	assert.Equal(t, []string{"beta", activation.ID}, remote.names(2))
	assert.Equal(t, []string{activation.ID}, remote.names(3))

	h, err := reg.AcquireWrite(ctx, activation.ID, 0)
	require.NoError(t, err, "the manager lock is released afterwards")
	h.Release()
}

// TestResyncAllWaitsForManager tests that a full resync cannot overlap a held manager
func TestResyncAllWaitsForManager(t *testing.T) {
	reg, _, _, s := setup(t)
	h, err := reg.AcquireRead(context.Background(), activation.ID, 0)
	require.NoError(t, err)
	defer h.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.ResyncAll(ctx, []api.Snowflake{1})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestRegisterAndDrop tests incremental changes after activation
func TestRegisterAndDrop(t *testing.T) {
	ctx := context.Background()
	_, _, remote, s := setup(t)

	require.NoError(t, s.Register(ctx, 1, "alpha", []string{activation.ID, "alpha"}))
	require.NoError(t, s.Register(ctx, 1, "silent", nil))
	assert.Equal(t, []string{"alpha"}, remote.names(1))

	require.NoError(t, s.Drop(ctx, 1, "alpha"))
	require.NoError(t, s.Drop(ctx, 1, "never-registered"))
	assert.Empty(t, remote.names(1))

	assert.ErrorIs(t, s.Register(ctx, 1, "nope", nil), registry.ErrNotFound)
}

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

// flaky fails the first n calls with err.
type flaky struct {
	*fakeRemote
	n   int
	err error
}

func (f *flaky) List(ctx context.Context, tenant api.Snowflake) ([]Registered, error) {
	if f.n > 0 {
		f.n--
		return nil, f.err
	}
	return f.fakeRemote.List(ctx, tenant)
}

// TestRetryingRecovers tests that retryable statuses are retried until success
func TestRetryingRecovers(t *testing.T) {
	inner := &flaky{fakeRemote: newFakeRemote(), n: 2, err: &StatusError{Status: 503, Err: errors.New("unavailable")}}
	r := NewRetrying(inner, fastRetry(), 0)

	_, err := r.List(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, inner.n)
}

// TestRetryingGivesUp tests non-retryable statuses and error wrapping
func TestRetryingGivesUp(t *testing.T) {
	inner := &flaky{fakeRemote: newFakeRemote(), n: 5, err: &StatusError{Status: 404, Err: errors.New("unknown command")}}
	r := NewRetrying(inner, fastRetry(), 0)

	_, err := r.List(context.Background(), 1)
	assert.ErrorIs(t, err, registry.ErrRemote)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 404, se.Status)
	assert.Equal(t, 4, inner.n, "a 404 is not retried")

	inner = &flaky{fakeRemote: newFakeRemote(), n: 10, err: &StatusError{Status: 429, Err: errors.New("slow down")}}
	_, err = NewRetrying(inner, fastRetry(), 0).List(context.Background(), 1)
	assert.ErrorIs(t, err, registry.ErrRemote)
	assert.Equal(t, 10-(fastRetry().MaxRetries+1), inner.n)
}

// TestCalculateDelay tests the backoff bounds
func TestCalculateDelay(t *testing.T) {
	r := NewRetrying(newFakeRemote(), DefaultRetryConfig(), 0)
	for attempt := 0; attempt < 10; attempt++ {
		d := r.calculateDelay(attempt)
		assert.LessOrEqual(t, d, DefaultRetryConfig().MaxDelay)
		assert.Greater(t, d, time.Duration(0))
	}
}
