package admin

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/schema"
)

const (
	rootEmail  = "root@co.com"
	actorEmail = rootEmail
)

// untouchableStore counts calls; none are expected
type untouchableStore struct {
	mu    sync.Mutex
	calls int
}

func (s *untouchableStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil, errors.New("store must not be called")
}

func (s *untouchableStore) Set(ctx context.Context, email string, g access.GrantSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return errors.New("store must not be called")
}

type readFailingStore struct {
	sets int
}

func (s *readFailingStore) Get(ctx context.Context, email string) (*access.GrantSet, error) {
	return nil, errors.New("connection refused")
}

func (s *readFailingStore) Set(ctx context.Context, email string, g access.GrantSet) error {
	s.sets++
	return nil
}

type recordingTrail struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingTrail) Log(ctx context.Context, e *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *e)
	return nil
}

func (r *recordingTrail) Close() error { return nil }

func (r *recordingTrail) last() audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type testService struct {
	*Service
	store    grants.Store
	profiles identity.ProfileStore
	trail    *recordingTrail
	metrics  *observability.Metrics
}

func newTestService(t *testing.T, store grants.Store) *testService {
	t.Helper()
	if store == nil {
		store = grants.NewMemoryStore()
	}
	profiles := identity.NewMemoryProfileStore()
	trail := &recordingTrail{}
	metrics := observability.NewTestMetrics()
	logger := observability.NewNopLogger()
	resolver := identity.NewResolver(identity.NewAdminAllowList(rootEmail), profiles, logger)
	return &testService{
		Service:  NewService(store, resolver, access.NewEvaluator(nil), trail, logger, metrics),
		store:    store,
		profiles: profiles,
		trail:    trail,
		metrics:  metrics,
	}
}

func TestSystemAdminWritesRejectedBeforeStore(t *testing.T) {
	store := &untouchableStore{}
	svc := newTestService(t, store)
	ctx := context.Background()

	writes := map[string]func() error{
		"set": func() error {
			return svc.SetUserFullPermissions(ctx, actorEmail, "ROOT@co.com", access.GrantSet{Pages: []string{"tasks"}})
		},
		"toggle_page": func() error {
			_, err := svc.TogglePage(ctx, actorEmail, rootEmail, "tasks")
			return err
		},
		"toggle_feature": func() error {
			_, err := svc.ToggleFeature(ctx, actorEmail, rootEmail, "view_financials")
			return err
		},
		"revoke_all": func() error {
			_, err := svc.RevokeAllPages(ctx, actorEmail, rootEmail)
			return err
		},
		"grant_all": func() error {
			_, err := svc.GrantAllPages(ctx, actorEmail, rootEmail)
			return err
		},
		"remove": func() error {
			return svc.RemoveUser(ctx, actorEmail, rootEmail)
		},
	}

	for name, write := range writes {
		t.Run(name, func(t *testing.T) {
			err := write()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSystemAdminImmutable)

			var rejection *RejectionError
			require.ErrorAs(t, err, &rejection)
			assert.Equal(t, "system_admin_immutable", rejection.Code)
			assert.Equal(t, rootEmail, rejection.Email)

			assert.Equal(t, audit.EventTypeGrantsRejected, svc.trail.last().EventType)
			assert.Equal(t, audit.EventStatusDenied, svc.trail.last().Status)
		})
	}

	assert.Zero(t, store.calls)
	assert.Equal(t, float64(len(writes)), testutil.ToFloat64(svc.metrics.WriteRejectionsTotal))
}

func TestRejectionErrorIsComparesCode(t *testing.T) {
	other := &RejectionError{Code: "something_else", Reason: "nope"}
	assert.False(t, errors.Is(other, ErrSystemAdminImmutable))
	assert.True(t, errors.Is(rejectSystemAdmin("a@b.co"), ErrSystemAdminImmutable))
	assert.Equal(t, "system administrator permissions cannot be modified: a@b.co", rejectSystemAdmin("a@b.co").Error())
}

func TestGetUserPermissions(t *testing.T) {
	ctx := context.Background()

	t.Run("system admin reads full catalog without store", func(t *testing.T) {
		store := &untouchableStore{}
		svc := newTestService(t, store)

		g, err := svc.GetUserPermissions(ctx, rootEmail)
		require.NoError(t, err)
		assert.Equal(t, access.DefaultCatalog().PageIDs().Slice(), g.Pages)
		assert.Contains(t, g.Features, "view_financials")
		assert.Zero(t, store.calls)
	})

	t.Run("missing document is empty", func(t *testing.T) {
		svc := newTestService(t, nil)
		g, err := svc.GetUserPermissions(ctx, "nobody@co.com")
		require.NoError(t, err)
		assert.Equal(t, access.Empty(), g)
	})

	t.Run("invalid email", func(t *testing.T) {
		svc := newTestService(t, nil)
		_, err := svc.GetUserPermissions(ctx, "nobody")
		assert.ErrorIs(t, err, identity.ErrInvalidEmail)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		svc := newTestService(t, &readFailingStore{})
		_, err := svc.GetUserPermissions(ctx, "alice@co.com")
		assert.Error(t, err)
	})
}

func TestSetUserFullPermissions(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	err := svc.SetUserFullPermissions(ctx, actorEmail, "Alice@Co.com", access.GrantSet{
		Pages:    []string{"tasks", "tasks"},
		Features: []string{"approve_time_off"},
	})
	require.NoError(t, err)

	g, err := svc.GetUserPermissions(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "tasks"}, g.Pages)
	assert.Equal(t, []string{"approve_time_off"}, g.Features)

	e := svc.trail.last()
	assert.Equal(t, audit.EventTypeGrantsSet, e.EventType)
	assert.Equal(t, actorEmail, e.Actor)
	assert.Equal(t, "alice@co.com", e.Target)
	changes, ok := e.Metadata["changes"].(audit.ChangeDetails)
	require.True(t, ok)
	assert.Equal(t, access.Empty(), changes.Before)
	assert.Equal(t, g, changes.After)
}

func TestSetUserFullPermissionsRejectsUnknownIDs(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	err := svc.SetUserFullPermissions(ctx, actorEmail, "alice@co.com", access.GrantSet{Pages: []string{"casino"}})
	assert.ErrorIs(t, err, access.ErrUnknownPage)

	err = svc.SetUserFullPermissions(ctx, actorEmail, "alice@co.com", access.GrantSet{Features: []string{"launch_rockets"}})
	assert.ErrorIs(t, err, access.ErrUnknownFeature)

	g, err := svc.store.Get(ctx, "alice@co.com")
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestRevokeAllPages(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	require.NoError(t, svc.store.Set(ctx, "alice@co.com", access.GrantSet{
		Pages:    []string{"tasks", "clients", "reports"},
		Features: []string{"view_financials"},
	}))

	g, err := svc.RevokeAllPages(ctx, actorEmail, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)
	assert.Equal(t, []string{"view_financials"}, g.Features)

	again, err := svc.RevokeAllPages(ctx, actorEmail, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, g, again)
}

func TestGrantAllPages(t *testing.T) {
	svc := newTestService(t, nil)

	g, err := svc.GrantAllPages(context.Background(), actorEmail, "alice@co.com")
	require.NoError(t, err)
	assert.Equal(t, access.DefaultCatalog().PageIDs().Slice(), g.Pages)
	assert.Empty(t, g.Features)
}

func TestTogglePage(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	g, err := svc.TogglePage(ctx, actorEmail, "alice@co.com", "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "tasks"}, g.Pages)

	g, err = svc.TogglePage(ctx, actorEmail, "alice@co.com", "tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)

	g, err = svc.TogglePage(ctx, actorEmail, "alice@co.com", "dashboard")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard"}, g.Pages)

	_, err = svc.TogglePage(ctx, actorEmail, "alice@co.com", "casino")
	assert.ErrorIs(t, err, access.ErrUnknownPage)
}

func TestToggleFeature(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	g, err := svc.ToggleFeature(ctx, actorEmail, "alice@co.com", "export_reports")
	require.NoError(t, err)
	assert.Equal(t, []string{"export_reports"}, g.Features)

	g, err = svc.ToggleFeature(ctx, actorEmail, "alice@co.com", "export_reports")
	require.NoError(t, err)
	assert.Empty(t, g.Features)

	_, err = svc.ToggleFeature(ctx, actorEmail, "alice@co.com", "launch_rockets")
	assert.ErrorIs(t, err, access.ErrUnknownFeature)
}

func TestDerivedWritesAbortOnReadFailure(t *testing.T) {
	store := &readFailingStore{}
	svc := newTestService(t, store)

	_, err := svc.TogglePage(context.Background(), actorEmail, "alice@co.com", "tasks")
	require.Error(t, err)
	assert.Zero(t, store.sets, "a failed read must not overwrite the document")
}

func TestSQLStackRecordsActorAndHistory(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, schema.RunMigrations(ctx, db, observability.NewNopLogger()))

	trail, err := audit.NewDBLogger(db)
	require.NoError(t, err)
	logger := observability.NewNopLogger()
	resolver := identity.NewResolver(identity.NewAdminAllowList(rootEmail), identity.NewSQLProfileStore(db), logger)
	svc := NewService(grants.NewSQLStore(db), resolver, access.NewEvaluator(nil), trail, logger, nil)

	_, err = svc.TogglePage(ctx, actorEmail, "alice@co.com", "tasks")
	require.NoError(t, err)
	_, err = svc.TogglePage(ctx, actorEmail, rootEmail, "tasks")
	require.ErrorIs(t, err, ErrSystemAdminImmutable)

	var updatedBy string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT updated_by FROM user_grants WHERE email = $1`, "alice@co.com").Scan(&updatedBy))
	assert.Equal(t, actorEmail, updatedBy)

	history, err := svc.History(ctx, "alice@co.com", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, audit.EventTypeGrantsSet, history[0].EventType)

	rejected, err := svc.History(ctx, rootEmail, 0)
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	assert.Equal(t, audit.EventTypeGrantsRejected, rejected[0].EventType)
}

func TestHistoryWithoutQuerier(t *testing.T) {
	svc := newTestService(t, nil)
	_, err := svc.History(context.Background(), "alice@co.com", 10)
	assert.ErrorIs(t, err, audit.ErrQueryUnsupported)
}
