package viewas

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// gatedStore blocks Get for an email until that email is released, ignoring
// context cancellation so late resolutions can be simulated
type gatedStore struct {
	*grants.MemoryStore

	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{MemoryStore: grants.NewMemoryStore(), gates: make(map[string]chan struct{})}
}

func (s *gatedStore) gate(email string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.gates[email]
	if !ok {
		ch = make(chan struct{})
		s.gates[email] = ch
	}
	return ch
}

func (s *gatedStore) release(email string) {
	close(s.gate(email))
}

func (s *gatedStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	<-s.gate(email)
	return s.MemoryStore.Get(ctx, email)
}

type failingStore struct{ grants.Store }

func (failingStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	return nil, errors.New("permission denied")
}

type panickingStore struct{ grants.Store }

func (panickingStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	panic("boom")
}

func newImpersonator(t *testing.T, store grants.Store) (*Impersonator, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewTestMetrics()
	imp := New(store, access.NewEvaluator(nil), observability.NewNopLogger(), WithMetrics(metrics))
	t.Cleanup(imp.Close)
	return imp, metrics
}

func waitActive(t *testing.T, imp *Impersonator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, imp.Wait(ctx))
	require.Equal(t, StateActive, imp.State())
}

var alice = identity.Identity{Email: "alice@co.com", DisplayName: "Alice", Role: identity.RoleAdmin, IsApproved: true}

func TestImpersonator_IdlePassesThrough(t *testing.T) {
	imp, _ := newImpersonator(t, grants.NewMemoryStore())

	assert.False(t, imp.IsViewingAs())
	assert.Equal(t, StateIdle, imp.State())
	assert.True(t, imp.EffectiveHasPermission("view_financials", true))
	assert.False(t, imp.EffectiveHasPermission("view_financials", false))
	assert.Equal(t, identity.RoleDirector, imp.EffectiveRole(identity.RoleDirector))

	eff := imp.GetEffectiveUser(alice)
	assert.False(t, eff.ViewingAs)
	assert.Equal(t, alice, eff.Identity)
	assert.Equal(t, alice, eff.RealUser())

	_, ok := imp.EffectiveGrants()
	assert.False(t, ok)
}

func TestImpersonator_UnknownTargetFailsClosed(t *testing.T) {
	imp, _ := newImpersonator(t, grants.NewMemoryStore())

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "Bob@Co.com", Role: identity.RoleHRManager}))
	waitActive(t, imp)

	assert.True(t, imp.IsViewingAs())
	assert.Equal(t, identity.RoleHRManager, imp.EffectiveRole(identity.RoleAdmin))
	assert.False(t, imp.EffectiveHasPermission("approve_time_off", true))

	g, ok := imp.EffectiveGrants()
	require.True(t, ok)
	assert.Empty(t, g.Pages)
	assert.Empty(t, g.Features)

	target, ok := imp.Target()
	require.True(t, ok)
	assert.Equal(t, "bob@co.com", target.Email)
}

func TestImpersonator_OverrideUsesTargetGrants(t *testing.T) {
	store := grants.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), "carol@co.com", access.GrantSet{
		Pages:    []string{"tasks"},
		Features: []string{"approve_time_off"},
	}))
	imp, _ := newImpersonator(t, store)

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "carol@co.com", Role: identity.RoleManager}))
	waitActive(t, imp)

	assert.False(t, imp.EffectiveHasPermission("view_financials", true))
	assert.True(t, imp.EffectiveHasPermission("approve_time_off", false))
	assert.True(t, imp.EffectiveHasPermission("tasks", false))
	assert.True(t, imp.EffectiveHasPermission("time-off", false), "base modules apply to the target")
	assert.False(t, imp.EffectiveHasPermission("settings", true))

	eff := imp.EffectiveAccess(access.Access{SystemAdmin: true})
	assert.False(t, eff.SystemAdmin)
	assert.True(t, eff.CanAccessPage("dashboard"))
}

func TestImpersonator_RoundTrip(t *testing.T) {
	imp, metrics := newImpersonator(t, grants.NewMemoryStore())

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "bob@co.com"}))
	waitActive(t, imp)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViewAsActive))

	imp.StopViewingAs()

	assert.False(t, imp.IsViewingAs())
	assert.Equal(t, StateIdle, imp.State())
	eff := imp.GetEffectiveUser(alice)
	assert.False(t, eff.ViewingAs)
	assert.Equal(t, alice, eff.Identity)
	for _, id := range []string{"view_financials", "tasks", "dashboard"} {
		assert.True(t, imp.EffectiveHasPermission(id, true))
		assert.False(t, imp.EffectiveHasPermission(id, false))
	}
	assert.Equal(t, identity.RoleAdmin, imp.EffectiveRole(identity.RoleAdmin))
	_, ok := imp.Target()
	assert.False(t, ok)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ViewAsActive))
}

func TestImpersonator_SnapshotTracksState(t *testing.T) {
	store := newGatedStore()
	require.NoError(t, store.MemoryStore.Set(context.Background(), "bob@co.com", access.GrantSet{Features: []string{"view_financials"}}))
	imp, _ := newImpersonator(t, store)

	viewing, g := imp.snapshot()
	assert.False(t, viewing)
	assert.Nil(t, g)

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "bob@co.com"}))
	viewing, g = imp.snapshot()
	assert.True(t, viewing)
	assert.Nil(t, g, "loading")

	store.release("bob@co.com")
	waitActive(t, imp)
	viewing, g = imp.snapshot()
	assert.True(t, viewing)
	require.NotNil(t, g)
	assert.Equal(t, []string{"view_financials"}, g.Features)

	imp.StopViewingAs()
	viewing, g = imp.snapshot()
	assert.False(t, viewing)
	assert.Nil(t, g)
	assert.True(t, imp.EffectiveHasPermission("settings", true))
}

func TestImpersonator_EffectiveUserKeepsRealUser(t *testing.T) {
	imp, _ := newImpersonator(t, grants.NewMemoryStore())
	real := alice.Clone()
	real.Roles = []identity.Role{identity.RoleAdmin}

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "bob@co.com"}))
	waitActive(t, imp)

	eff := imp.GetEffectiveUser(real)
	assert.True(t, eff.ViewingAs)
	assert.Equal(t, "bob@co.com", eff.Email)
	assert.Equal(t, identity.DefaultRole, eff.Role)
	assert.Equal(t, real, eff.RealUser())

	eff.Roles = append(eff.Roles, identity.RoleClient)
	assert.Equal(t, []identity.Role{identity.RoleAdmin}, real.Roles)

	data, err := json.Marshal(eff)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "alice@co.com")
	assert.Contains(t, string(data), `"viewing_as":true`)
}

func TestImpersonator_RaceGuardLastTargetWins(t *testing.T) {
	store := newGatedStore()
	require.NoError(t, store.MemoryStore.Set(context.Background(), "b@co.com", access.GrantSet{Features: []string{"view_financials"}}))
	require.NoError(t, store.MemoryStore.Set(context.Background(), "c@co.com", access.GrantSet{Features: []string{"manage_team"}}))
	imp, metrics := newImpersonator(t, store)

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "b@co.com"}))
	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "c@co.com"}))
	assert.Equal(t, StateLoading, imp.State())
	assert.False(t, imp.EffectiveHasPermission("manage_team", true), "loading grants nothing")

	store.release("c@co.com")
	waitActive(t, imp)

	store.release("b@co.com")
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ViewAsStaleDiscardsTotal) == 1
	}, 2*time.Second, 5*time.Millisecond)

	target, _ := imp.Target()
	assert.Equal(t, "c@co.com", target.Email)
	assert.True(t, imp.EffectiveHasPermission("manage_team", false))
	assert.False(t, imp.EffectiveHasPermission("view_financials", true))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ViewAsStartsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViewAsActive))
}

func TestImpersonator_StopDiscardsInFlightFetch(t *testing.T) {
	store := newGatedStore()
	imp, metrics := newImpersonator(t, store)

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "b@co.com"}))
	imp.StopViewingAs()
	store.release("b@co.com")

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ViewAsStaleDiscardsTotal) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateIdle, imp.State())
	assert.False(t, imp.IsViewingAs())
}

func TestImpersonator_FetchFailureFailsClosed(t *testing.T) {
	imp, metrics := newImpersonator(t, failingStore{})

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "bob@co.com", Role: identity.RoleHRManager}))
	waitActive(t, imp)

	assert.False(t, imp.EffectiveHasPermission("approve_time_off", true))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViewAsFetchFailuresTotal))
}

func TestImpersonator_FetchPanicFailsClosed(t *testing.T) {
	imp, _ := newImpersonator(t, panickingStore{})

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "bob@co.com"}))
	waitActive(t, imp)

	assert.False(t, imp.EffectiveHasPermission("tasks", true))
}

func TestImpersonator_Close(t *testing.T) {
	store := newGatedStore()
	imp, metrics := newImpersonator(t, store)

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "b@co.com"}))
	imp.Close()
	imp.Close()
	store.release("b@co.com")

	assert.ErrorIs(t, imp.StartViewingAs(identity.Identity{Email: "c@co.com"}), ErrClosed)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.ViewAsStaleDiscardsTotal) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, imp.IsViewingAs())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ViewAsActive))
}

func TestImpersonator_InvalidTarget(t *testing.T) {
	imp, _ := newImpersonator(t, grants.NewMemoryStore())
	assert.ErrorIs(t, imp.StartViewingAs(identity.Identity{Email: "not-an-email"}), identity.ErrInvalidEmail)
	assert.False(t, imp.IsViewingAs())
}

func TestImpersonator_WaitHonoursContext(t *testing.T) {
	store := newGatedStore()
	imp, _ := newImpersonator(t, store)
	defer store.release("b@co.com")

	require.NoError(t, imp.StartViewingAs(identity.Identity{Email: "b@co.com"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, imp.Wait(ctx), context.DeadlineExceeded)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "active", StateActive.String())
}
