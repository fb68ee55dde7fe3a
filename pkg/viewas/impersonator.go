package viewas

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/access"
	"github.com/platinummonkey/gatehouse/pkg/grants"
	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// DefaultFetchTimeout bounds a single target grant fetch
const DefaultFetchTimeout = 10 * time.Second

// ErrClosed is returned when starting View As on a closed impersonator
var ErrClosed = errors.New("viewas: impersonator closed")

// State is the impersonation lifecycle state
type State int

const (
	StateIdle State = iota
	StateLoading
	StateActive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	default:
		return "idle"
	}
}

// Option configures an Impersonator
type Option func(*Impersonator)

// WithFetchTimeout overrides DefaultFetchTimeout
func WithFetchTimeout(d time.Duration) Option {
	return func(i *Impersonator) {
		if d > 0 {
			i.fetchTimeout = d
		}
	}
}

// WithMetrics attaches impersonation metrics
func WithMetrics(m *observability.Metrics) Option {
	return func(i *Impersonator) {
		i.metrics = m
	}
}

// Impersonator holds the View As state for one session.
//
// Target grants are fetched in the background. Each start bumps a generation
// counter; a fetch commits only if its generation and email still match the
// requested target, so the last requested target always wins.
type Impersonator struct {
	store        grants.Store
	evaluator    *access.Evaluator
	logger       *observability.Logger
	metrics      *observability.Metrics
	fetchTimeout time.Duration

	mu         sync.Mutex
	state      State
	target     *identity.Identity
	grants     *access.GrantSet
	role       identity.Role
	generation uint64
	cancel     context.CancelFunc
	done       chan struct{}
	closed     bool
}

// New creates an idle impersonator reading target grants from store
func New(store grants.Store, evaluator *access.Evaluator, logger *observability.Logger, opts ...Option) *Impersonator {
	i := &Impersonator{
		store:        store,
		evaluator:    evaluator,
		logger:       logger.WithField("component", "viewas"),
		fetchTimeout: DefaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// StartViewingAs selects target and begins loading its grants. Calling it
// while already viewing replaces the target; any fetch still in flight for
// the previous target is cancelled and its result discarded.
func (i *Impersonator) StartViewingAs(target identity.Identity) error {
	email, err := identity.ParseEmail(target.Email)
	if err != nil {
		return err
	}
	t := target.Clone()
	t.Email = email
	t.Role = identity.RoleOrDefault(t.Role)

	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	wasIdle := i.state == StateIdle
	if i.cancel != nil {
		i.cancel()
	}
	i.generation++
	gen := i.generation
	ctx, cancel := context.WithTimeout(context.Background(), i.fetchTimeout)
	done := make(chan struct{})

	i.state = StateLoading
	i.target = &t
	i.grants = nil
	i.role = t.Role
	i.cancel = cancel
	i.done = done
	i.mu.Unlock()

	if i.metrics != nil {
		i.metrics.ViewAsStartsTotal.Inc()
		if wasIdle {
			i.metrics.ViewAsActive.Inc()
		}
	}
	i.logger.WithField("target", email).Info("View As started")

	go i.fetch(ctx, gen, email, done)
	return nil
}

func (i *Impersonator) fetch(ctx context.Context, gen uint64, email string, done chan struct{}) {
	defer close(done)
	defer observability.RecoverPanicWithCallback(i.logger, "viewas.fetch", func() {
		i.commit(gen, email, nil, errors.New("grant fetch panicked"))
	})

	g, err := i.store.Get(ctx, email)
	i.commit(gen, email, g, err)
}

func (i *Impersonator) commit(gen uint64, email string, g *access.GrantSet, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	log := i.logger.WithField("target", email)
	if i.closed || gen != i.generation || i.target == nil || i.target.Email != email {
		log.Debug("Discarding stale View As grant fetch")
		if i.metrics != nil {
			i.metrics.ViewAsStaleDiscardsTotal.Inc()
		}
		return
	}

	switch {
	case err != nil:
		log.WithError(err).Warn("Failed to fetch target grants, viewing with no permissions")
		if i.metrics != nil {
			i.metrics.ViewAsFetchFailuresTotal.Inc()
		}
		empty := access.Empty()
		g = &empty
	case g == nil:
		log.Info("Target has no stored grants, viewing with no permissions")
		empty := access.Empty()
		g = &empty
	default:
		normalized := g.Normalized()
		g = &normalized
	}

	i.grants = g
	i.state = StateActive
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
}

// StopViewingAs clears the target, its grants and its role together and
// cancels any fetch in flight
func (i *Impersonator) StopViewingAs() {
	i.mu.Lock()
	wasViewing := i.reset()
	i.mu.Unlock()

	if wasViewing {
		if i.metrics != nil {
			i.metrics.ViewAsActive.Dec()
		}
		i.logger.Info("View As stopped")
	}
}

// reset returns to Idle; the caller holds mu
func (i *Impersonator) reset() bool {
	if i.cancel != nil {
		i.cancel()
		i.cancel = nil
	}
	wasViewing := i.state != StateIdle
	i.generation++
	i.state = StateIdle
	i.target = nil
	i.grants = nil
	i.role = ""
	i.done = nil
	return wasViewing
}

// Close stops any impersonation. Fetches still in flight never apply state
// afterwards.
func (i *Impersonator) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return
	}
	i.closed = true
	wasViewing := i.reset()
	i.mu.Unlock()

	if wasViewing && i.metrics != nil {
		i.metrics.ViewAsActive.Dec()
	}
}

// IsViewingAs reports whether a target is set, loaded or not
func (i *Impersonator) IsViewingAs() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.target != nil
}

// State returns the current lifecycle state
func (i *Impersonator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Target returns a copy of the current target
func (i *Impersonator) Target() (identity.Identity, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.target == nil {
		return identity.Identity{}, false
	}
	return i.target.Clone(), true
}

// Wait blocks until the current target is no longer loading
func (i *Impersonator) Wait(ctx context.Context) error {
	for {
		i.mu.Lock()
		if i.state != StateLoading {
			i.mu.Unlock()
			return nil
		}
		done := i.done
		i.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetEffectiveUser returns the target when viewing, else real. real is never
// modified.
func (i *Impersonator) GetEffectiveUser(real identity.Identity) EffectiveUser {
	realCopy := real.Clone()

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.target == nil {
		return EffectiveUser{Identity: realCopy, real: &realCopy}
	}
	eff := i.target.Clone()
	eff.Role = i.role
	return EffectiveUser{Identity: eff, ViewingAs: true, real: &realCopy}
}

// EffectiveRole returns the target role while viewing, else realRole
func (i *Impersonator) EffectiveRole(realRole identity.Role) identity.Role {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.target == nil {
		return realRole
	}
	return i.role
}

// EffectiveGrants returns the fetched target grants. ok is false when not
// viewing or still loading.
func (i *Impersonator) EffectiveGrants() (*access.GrantSet, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state != StateActive || i.grants == nil {
		return nil, false
	}
	g := i.grants.Normalized()
	return &g, true
}

// EffectiveAccess returns real unchanged when not viewing. While viewing it
// evaluates the target grants as a non-admin; while loading nothing is
// granted.
func (i *Impersonator) EffectiveAccess(real access.Access) access.Access {
	viewing, g := i.snapshot()
	if !viewing {
		return real
	}
	return i.evaluate(g)
}

// EffectiveHasPermission passes realHasPermission through when not viewing.
// While viewing, the answer comes only from the target's grants; permissionID
// may name a page or a feature.
func (i *Impersonator) EffectiveHasPermission(permissionID string, realHasPermission bool) bool {
	viewing, g := i.snapshot()
	if !viewing {
		return realHasPermission
	}
	a := i.evaluate(g)
	return a.CanAccessPage(permissionID) || a.CanUseFeature(permissionID)
}

// snapshot reads the viewing flag and the active grants under one lock. g is
// nil while loading.
func (i *Impersonator) snapshot() (viewing bool, g *access.GrantSet) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == StateActive && i.grants != nil {
		normalized := i.grants.Normalized()
		g = &normalized
	}
	return i.target != nil, g
}

func (i *Impersonator) evaluate(g *access.GrantSet) access.Access {
	if g == nil {
		return access.Access{Pages: access.Set{}, Features: access.Set{}}
	}
	return i.evaluator.Evaluate(g, false)
}
