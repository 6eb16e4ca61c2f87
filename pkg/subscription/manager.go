package subscription

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/aretw0/tendril/internal/logging"
	"github.com/aretw0/tendril/pkg/domain"
	"github.com/aretw0/tendril/pkg/observability"
	"github.com/aretw0/tendril/pkg/ports"
	"github.com/google/uuid"
)

// DefaultCapacity is the size of the per-subscription forwarding buffer.
const DefaultCapacity = 10

// Manager is the registry of live subscriptions.
type Manager struct {
	mu        sync.Mutex
	subs      map[string]*Subscription
	perClient map[string]int

	capacity     int
	maxPerClient int
	maxGlobal    int
	logger       *slog.Logger
	metrics      *observability.Metrics
	newID        func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithCapacity sets the forwarding buffer size. Values below one are ignored.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.capacity = n
		}
	}
}

// WithMaxPerClient limits the concurrent subscriptions of one client. Zero means unlimited.
func WithMaxPerClient(n int) Option {
	return func(m *Manager) {
		m.maxPerClient = n
	}
}

// WithMaxGlobal limits the concurrent subscriptions of the process. Zero means unlimited.
func WithMaxGlobal(n int) Option {
	return func(m *Manager) {
		m.maxGlobal = n
	}
}

// WithLogger sets the logger. A nil logger keeps the silent default.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics enables subscription metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithIDGenerator replaces the uuid v4 id source.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		subs:      make(map[string]*Subscription),
		perClient: make(map[string]int),
		capacity:  DefaultCapacity,
		logger:    logging.NewNop(),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request describes a subscription about to be opened.
type Request struct {
	// Method is the subscription path. Notifications go to Method + NotifSuffix.
	Method string
	// Client keys the per-client limit.
	Client string
	Sink   ports.Sink
}

// Open allocates an id and registers a Pending subscription. When a limit is
// exceeded the subscription comes back already Rejected and unregistered; Run
// still delivers its close notice.
//
// ctx only contributes values: the subscription context handed to the handler
// is cancelled by closure, never by ctx.
func (m *Manager) Open(ctx context.Context, req Request) *Subscription {
	s := newSubscription(m, req, m.newID(), ctx)

	m.mu.Lock()
	switch {
	case m.maxGlobal > 0 && len(m.subs) >= m.maxGlobal,
		m.maxPerClient > 0 && m.perClient[req.Client] >= m.maxPerClient:
		m.mu.Unlock()
		s.state = StateRejected
		s.err = domain.NewError(domain.CodeTooManySubscriptions, "too many subscriptions", nil)
		s.reason = observability.ReasonRejected
		m.logger.Warn("subscription limit reached", "method", req.Method, "client", req.Client)
		return s
	}
	m.subs[s.id] = s
	m.perClient[req.Client]++
	s.registered = true
	m.mu.Unlock()

	m.metrics.SubscriptionOpened()
	m.logger.Debug("subscription opened", "method", req.Method, "subscription", s.id)
	return s
}

// Get returns a registered subscription.
func (m *Manager) Get(id string) (*Subscription, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	return s, ok
}

// Unsubscribe requests closure of id and reports whether it was registered.
// It does not wait for the forwarding task to finish.
func (m *Manager) Unsubscribe(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	return s.requestClose(observability.ReasonUnsubscribe)
}

// Active lists the ids of registered subscriptions in lexical order.
func (m *Manager) Active() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered subscriptions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Shutdown closes every subscription and waits for running forwarders to
// finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		s.requestClose(observability.ReasonShutdown)
		if !s.running.Load() {
			// Never started: nothing will drain it, so settle it here.
			s.finishIdle()
		}
	}
	for _, s := range subs {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) remove(s *Subscription) {
	if !s.registered {
		return
	}
	m.mu.Lock()
	if _, ok := m.subs[s.id]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.subs, s.id)
	if m.perClient[s.client]--; m.perClient[s.client] <= 0 {
		delete(m.perClient, s.client)
	}
	m.mu.Unlock()

	s.mu.Lock()
	reason := s.reason
	s.mu.Unlock()
	m.metrics.SubscriptionClosed(s.method, reason)
}
