package certs

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"mercator-hq/janus/pkg/routes"
)

var (
	orderTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "janus_cert_orders_total",
		Help: "Total number of completed ACME orders by result.",
	}, []string{"result"})

	validCertsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "janus_certs_valid",
		Help: "Number of certificate names currently holding valid material.",
	})
)

// ManagerConfig configures the certificate manager.
type ManagerConfig struct {
	// Store persists certificate material.
	Store *Store

	// Index persists certificate metadata.
	Index *Index

	// Orderer obtains new material. Nil disables ordering; existing
	// material is still loaded and served.
	Orderer Orderer

	// Solver is the HTTP-01 token store shared with the proxy engine.
	Solver *ChallengeStore

	// Predeclared maps certificate names to domain lists that must be
	// kept valid regardless of what the registry announces.
	Predeclared map[string][]string

	// RenewBefore is how long before expiry a certificate is renewed.
	RenewBefore time.Duration

	// OrdersPerHour caps the rate of new ACME orders.
	OrdersPerHour int

	// RetryMaxElapsed bounds the retry window of a single failed order.
	RetryMaxElapsed time.Duration

	// OnChange, when set, is invoked after any certificate becomes
	// available or is replaced. The server uses it to trigger a reload.
	OnChange func(name string)

	// Logger is the structured logger; defaults to slog.Default().
	Logger *slog.Logger
}

// Manager drives the certificate lifecycle. It is the single writer of
// certificate state; the proxy engine reads finished material through
// CertificateFor during TLS handshakes.
//
// At most one order runs per certificate name at a time. An order that
// outlives its requesting endpoint still completes and persists, so the
// material is ready if the endpoint returns.
type Manager struct {
	store   *Store
	index   *Index
	orderer Orderer
	solver  *ChallengeStore

	predeclared map[string][]string
	renewBefore time.Duration
	retryMax    time.Duration

	limiter  *rate.Limiter
	onChange func(name string)
	logger   *slog.Logger

	mu       sync.RWMutex
	states   map[string]State
	parsed   map[string]*tls.Certificate
	records  map[string]*Record
	inflight map[string]struct{}
	// domainOwner maps each domain of an in-flight order back to its
	// certificate name so the solver hook can attribute tokens.
	domainOwner map[string]string

	wg sync.WaitGroup
	// baseCtx outlives any caller's request context so an order started
	// by a short-lived request still runs to completion.
	baseCtx context.Context
	cancel  context.CancelFunc
	closed  chan struct{}
}

// NewManager creates a certificate manager and loads all persisted records
// into memory. Records with expired material are kept and served until a
// renewal replaces them; a stale certificate beats a handshake failure.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RenewBefore <= 0 {
		cfg.RenewBefore = 30 * 24 * time.Hour
	}
	if cfg.OrdersPerHour <= 0 {
		cfg.OrdersPerHour = 30
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = time.Hour
	}

	m := &Manager{
		store:       cfg.Store,
		index:       cfg.Index,
		orderer:     cfg.Orderer,
		solver:      cfg.Solver,
		predeclared: cfg.Predeclared,
		renewBefore: cfg.RenewBefore,
		retryMax:    cfg.RetryMaxElapsed,
		limiter:     rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.OrdersPerHour)), cfg.OrdersPerHour),
		onChange:    cfg.OnChange,
		logger:      cfg.Logger.With("component", "certs.manager"),
		states:      make(map[string]State),
		parsed:      make(map[string]*tls.Certificate),
		records:     make(map[string]*Record),
		inflight:    make(map[string]struct{}),
		domainOwner: make(map[string]string),
		closed:      make(chan struct{}),
	}
	m.baseCtx, m.cancel = context.WithCancel(context.Background())

	if m.solver != nil {
		m.solver.OnPresent(m.challengePresented)
	}

	if err := m.loadPersisted(); err != nil {
		return nil, err
	}
	return m, nil
}

// loadPersisted hydrates in-memory state from the store and reconciles the
// index with what is actually on disk.
func (m *Manager) loadPersisted() error {
	names, err := m.store.List()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, name := range names {
		rec, err := m.store.Load(name)
		if err != nil {
			m.logger.Warn("skipping unreadable certificate record", "cert", name, "error", err)
			continue
		}
		cert, err := tls.X509KeyPair(rec.ChainPEM, rec.KeyPEM)
		if err != nil {
			m.logger.Warn("skipping unparseable certificate record", "cert", name, "error", err)
			continue
		}

		state := StateValid
		if !rec.Valid(now) {
			state = StateExpired
		}
		m.states[name] = state
		m.records[name] = rec
		m.parsed[name] = &cert

		if err := m.index.Upsert(context.Background(), IndexEntry{
			Name:        name,
			Domains:     rec.Domains,
			State:       state,
			NotAfter:    rec.NotAfter,
			LastAttempt: rec.LastAttempt,
		}); err != nil {
			m.logger.Warn("failed to reconcile index entry", "cert", name, "error", err)
		}

		m.logger.Info("loaded persisted certificate",
			"cert", name,
			"domains", rec.Domains,
			"state", string(state),
			"not_after", rec.NotAfter.Format(time.RFC3339),
		)
	}
	m.updateValidGauge()
	return nil
}

// Ensure reconciles desired certificates against current state. Every
// request (plus every predeclared certificate) that lacks valid covering
// material gets an order started in the background; names that already hold
// covering material fresher than the renewal window are left alone.
//
// Ensure never blocks on the network. Completed orders surface through
// OnChange.
func (m *Manager) Ensure(ctx context.Context, requests []routes.CertRequest) {
	desired := make(map[string][]string, len(requests)+len(m.predeclared))
	for _, req := range requests {
		desired[req.Name] = req.Domains
	}
	for name, domains := range m.predeclared {
		if _, ok := desired[name]; !ok {
			desired[name] = domains
		}
	}

	names := make([]string, 0, len(desired))
	for name := range desired {
		names = append(names, name)
	}
	sort.Strings(names)

	now := time.Now()
	for _, name := range names {
		domains := desired[name]
		if m.needsOrder(name, domains, now) {
			m.startOrder(ctx, name, domains, false)
		}
	}
}

// needsOrder reports whether a name requires a new order for the domain
// set: no material, expired material, material inside the renewal window,
// or material that does not cover every requested domain.
func (m *Manager) needsOrder(name string, domains []string, now time.Time) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, running := m.inflight[name]; running {
		return false
	}
	rec := m.records[name]
	if rec == nil {
		return true
	}
	if !rec.Valid(now) || !rec.Covers(domains) {
		return true
	}
	return now.After(rec.NotAfter.Add(-m.renewBefore))
}

// Renew starts an order for an already-known name, reusing its recorded
// domain set. With force, the renewal window is ignored. Used by the sweep
// and the admin surface.
func (m *Manager) Renew(ctx context.Context, name string, force bool) error {
	m.mu.RLock()
	rec := m.records[name]
	m.mu.RUnlock()

	if rec == nil {
		entry, err := m.index.Get(ctx, name)
		if err != nil {
			return err
		}
		m.startOrder(ctx, name, entry.Domains, true)
		return nil
	}
	if !force && !m.needsOrder(name, rec.Domains, time.Now()) {
		return nil
	}
	m.startOrder(ctx, name, rec.Domains, true)
	return nil
}

// startOrder launches the order goroutine for a name unless one is already
// running. Orders for distinct names run concurrently; orders for the same
// name are strictly serialized.
func (m *Manager) startOrder(ctx context.Context, name string, domains []string, renewal bool) {
	if m.orderer == nil || len(domains) == 0 {
		return
	}
	select {
	case <-m.closed:
		return
	default:
	}

	m.mu.Lock()
	if _, running := m.inflight[name]; running {
		m.mu.Unlock()
		return
	}
	m.inflight[name] = struct{}{}
	for _, d := range domains {
		m.domainOwner[d] = name
	}
	state := StateRequested
	if renewal && m.states[name] == StateValid {
		state = StateRenewing
	}
	m.states[name] = state
	m.mu.Unlock()

	m.persistState(ctx, name, domains, state)
	m.logger.Info("certificate order started",
		"cert", name, "domains", domains, "state", string(state))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.finishOrder(name, domains)
		m.runOrder(m.baseCtx, name, domains)
	}()
}

// runOrder executes one order with rate limiting and bounded retries.
func (m *Manager) runOrder(ctx context.Context, name string, domains []string) {
	if err := m.limiter.Wait(ctx); err != nil {
		m.logger.Warn("order abandoned while rate limited", "cert", name, "error", err)
		m.revertOrderState(ctx, name, domains)
		return
	}

	var mat Material
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 5 * time.Second
	policy.MaxInterval = 5 * time.Minute
	policy.MaxElapsedTime = m.retryMax

	err := backoff.Retry(func() error {
		got, err := m.orderer.Obtain(ctx, domains)
		if err != nil {
			if IsRateLimited(err) {
				// Never hammer a rate-limited CA; the sweep
				// retries tomorrow.
				return backoff.Permanent(err)
			}
			m.logger.Warn("certificate order attempt failed",
				"cert", name, "domains", domains, "error", err)
			return err
		}
		mat = got
		return nil
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		orderTotal.WithLabelValues("failure").Inc()
		m.logger.Error("certificate order failed",
			"cert", name, "domains", domains, "error", err)
		m.revertOrderState(ctx, name, domains)
		return
	}

	if err := m.adopt(ctx, name, mat); err != nil {
		orderTotal.WithLabelValues("failure").Inc()
		m.logger.Error("failed to persist issued certificate",
			"cert", name, "error", err)
		m.revertOrderState(ctx, name, domains)
		return
	}
	orderTotal.WithLabelValues("success").Inc()
}

// adopt persists issued material, swaps it into the serving set, and
// notifies the change listener. The previous material stays in place until
// the new pair has been written and parsed.
func (m *Manager) adopt(ctx context.Context, name string, mat Material) error {
	cert, err := tls.X509KeyPair(mat.ChainPEM, mat.KeyPEM)
	if err != nil {
		return fmt.Errorf("issued material unparseable: %w", err)
	}

	now := time.Now()
	if err := m.store.Save(name, mat, now); err != nil {
		return err
	}

	rec := &Record{
		Name:        name,
		Domains:     mat.Domains,
		KeyPEM:      mat.KeyPEM,
		ChainPEM:    mat.ChainPEM,
		NotAfter:    mat.NotAfter,
		LastAttempt: now,
	}

	m.mu.Lock()
	m.records[name] = rec
	m.parsed[name] = &cert
	m.states[name] = StateValid
	m.mu.Unlock()

	if err := m.index.Upsert(ctx, IndexEntry{
		Name:        name,
		Domains:     mat.Domains,
		State:       StateValid,
		NotAfter:    mat.NotAfter,
		LastAttempt: now,
	}); err != nil {
		m.logger.Warn("failed to update certificate index", "cert", name, "error", err)
	}
	// The forced-renewal flag is honored the moment an order actually
	// lands; a failed order leaves it set for the next sweep.
	if err := m.index.SetForceRenew(ctx, name, false); err != nil {
		m.logger.Warn("failed to clear force-renew flag", "cert", name, "error", err)
	}
	m.updateValidGauge()

	m.logger.Info("certificate now serving",
		"cert", name,
		"domains", mat.Domains,
		"not_after", mat.NotAfter.Format(time.RFC3339),
	)
	if m.onChange != nil {
		m.onChange(name)
	}
	return nil
}

// revertOrderState returns a name to the state its material justifies after
// a failed order: VALID while the old pair still works, EXPIRED when it has
// lapsed, NONE when nothing was ever issued.
func (m *Manager) revertOrderState(ctx context.Context, name string, domains []string) {
	now := time.Now()

	m.mu.Lock()
	rec := m.records[name]
	var state State
	switch {
	case rec != nil && rec.Valid(now):
		state = StateValid
	case rec != nil:
		state = StateExpired
	default:
		state = StateRequested
	}
	m.states[name] = state
	m.mu.Unlock()

	m.persistState(ctx, name, domains, state)
	m.updateValidGauge()
}

// finishOrder releases the in-flight slot and the domain ownership map.
func (m *Manager) finishOrder(name string, domains []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inflight, name)
	for _, d := range domains {
		if m.domainOwner[d] == name {
			delete(m.domainOwner, d)
		}
	}
}

// challengePresented is the solver hook: a token for one of the order's
// domains is now published. A fresh order moves to CHALLENGE_PENDING; a
// renewal stays RENEWING, its previous material still serving.
func (m *Manager) challengePresented(domain string) {
	m.mu.Lock()
	name, ok := m.domainOwner[domain]
	pending := ok && m.states[name] == StateRequested
	if pending {
		m.states[name] = StateChallengePending
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	m.logger.Info("acme challenge published", "cert", name, "domain", domain)
	if !pending {
		return
	}
	if err := m.index.SetState(context.Background(), name, StateChallengePending); err != nil {
		m.logger.Warn("failed to record challenge state", "cert", name, "error", err)
	}
}

// persistState writes a state transition through to the index.
func (m *Manager) persistState(ctx context.Context, name string, domains []string, state State) {
	m.mu.RLock()
	rec := m.records[name]
	m.mu.RUnlock()

	entry := IndexEntry{Name: name, Domains: domains, State: state}
	if rec != nil {
		entry.NotAfter = rec.NotAfter
		entry.LastAttempt = rec.LastAttempt
	}
	if err := m.index.Upsert(ctx, entry); err != nil {
		m.logger.Warn("failed to persist certificate state",
			"cert", name, "state", string(state), "error", err)
	}
}

// CertificateFor returns the serving certificate for a name. Called from
// TLS handshakes; must stay cheap.
func (m *Manager) CertificateFor(name string) (*tls.Certificate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cert, ok := m.parsed[name]
	return cert, ok
}

// StateOf returns the lifecycle state of a name. Unknown names are
// StateNone.
func (m *Manager) StateOf(name string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if state, ok := m.states[name]; ok {
		return state
	}
	return StateNone
}

// Solver returns the HTTP-01 token store for the proxy engine.
func (m *Manager) Solver() *ChallengeStore {
	return m.solver
}

// RenewBefore returns the configured renewal window.
func (m *Manager) RenewBefore() time.Duration {
	return m.renewBefore
}

// Close stops accepting orders, cancels in-flight orders, and waits for
// their goroutines to finish.
func (m *Manager) Close() {
	select {
	case <-m.closed:
	default:
		close(m.closed)
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) updateValidGauge() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, state := range m.states {
		if state == StateValid || state == StateRenewing {
			n++
		}
	}
	validCertsGauge.Set(float64(n))
}
