package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/viewas"
)

// Config bounds the session table
type Config struct {
	MaxSessions  int
	TTL          time.Duration
	FetchTimeout time.Duration
}

// Manager creates, finds and destroys sessions. Sessions expire after TTL
// without use; expiry and eviction tear down any View As state.
type Manager struct {
	cfg       Config
	sessions  *expirable.LRU[string, *Session]
	resolver  *identity.Resolver
	store     grants.Store
	evaluator *access.Evaluator
	trail     audit.Logger
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewManager creates a session manager
func NewManager(cfg Config, resolver *identity.Resolver, store grants.Store, evaluator *access.Evaluator, trail audit.Logger, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * time.Hour
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = viewas.DefaultFetchTimeout
	}
	if trail == nil {
		trail = audit.NewNopLogger()
	}

	m := &Manager{
		cfg:       cfg,
		resolver:  resolver,
		store:     store,
		evaluator: evaluator,
		trail:     trail,
		logger:    logger.WithField("component", "session"),
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
	m.sessions = expirable.NewLRU[string, *Session](cfg.MaxSessions, m.onEvict, cfg.TTL)
	return m
}

func (m *Manager) onEvict(id string, s *Session) {
	s.close()
	if m.metrics != nil {
		m.metrics.SessionsActive.Dec()
	}
	m.logger.WithField("session_id", id).Debug("Session closed")
}

// Open resolves the principal, loads its own grants and starts a session.
// Unapproved or removed users are refused unless allow-listed.
func (m *Manager) Open(ctx context.Context, p identity.Principal) (*Session, error) {
	user, err := m.resolver.Resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	systemAdmin := m.resolver.IsSystemAdmin(user.Email)
	if !systemAdmin && (!user.IsApproved || user.IsRemoved()) {
		m.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLoginFailed, audit.EventStatusDenied, user.Email, user.Email).
			WithMessage(ErrNotApproved.Error()))
		return nil, ErrNotApproved
	}

	s := &Session{
		ID:          uuid.New().String(),
		Real:        user,
		CreatedAt:   m.now(),
		systemAdmin: systemAdmin,
		evaluator:   m.evaluator,
		resolver:    m.resolver,
		trail:       m.trail,
		metrics:     m.metrics,
	}
	s.logger = m.logger.WithField("session_id", s.ID).WithField("email", user.Email)
	if !systemAdmin {
		s.own = m.loadOwnGrants(ctx, s.logger, user.Email)
	}
	s.imp = viewas.New(m.store, m.evaluator, s.logger,
		viewas.WithMetrics(m.metrics),
		viewas.WithFetchTimeout(m.cfg.FetchTimeout),
	)

	m.sessions.Add(s.ID, s)
	if m.metrics != nil {
		m.metrics.SessionsActive.Inc()
	}
	m.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLogin, audit.EventStatusSuccess, user.Email, user.Email))
	s.logger.Info("Session opened")
	return s, nil
}

// loadOwnGrants fetches the user's stored grants, failing closed to an empty set
func (m *Manager) loadOwnGrants(ctx context.Context, log *observability.Logger, email string) *access.GrantSet {
	g, err := m.store.Get(ctx, email)
	if err != nil {
		log.WithError(err).Warn("Failed to load grants, continuing with no permissions")
		empty := access.Empty()
		return &empty
	}
	if g == nil {
		empty := access.Empty()
		return &empty
	}
	return g
}

// Get returns a live session and extends its lifetime
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.sessions.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	m.sessions.Add(id, s)
	return s, nil
}

// Close destroys a session and any View As state it holds
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.sessions.Peek(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.sessions.Remove(id)
	m.logAudit(ctx, audit.NewEvent(ctx, audit.EventTypeAuthLogout, audit.EventStatusSuccess, s.Real.Email, s.Real.Email))
	return nil
}

// CloseAll destroys every session
func (m *Manager) CloseAll() {
	m.sessions.Purge()
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	return m.sessions.Len()
}

// TTL returns the idle lifetime of a session
func (m *Manager) TTL() time.Duration {
	return m.cfg.TTL
}

func (m *Manager) logAudit(ctx context.Context, e *audit.Event) {
	if err := m.trail.Log(ctx, e); err != nil {
		m.logger.WithError(err).WithField("event_type", string(e.EventType)).Warn("Failed to write audit event")
	}
}
