package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/fetch"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/fetchbridge/internal/resource"
)

// DefaultIdleTTL is how long an unused session lives.
const DefaultIdleTTL = 30 * time.Minute

// ErrClosed is returned when creating a session after CloseAll, or a
// stream on a closed session.
var ErrClosed = errors.New("session closed")

// Manager creates, looks up and expires sessions.
type Manager struct {
	builder   *fetch.Builder
	fetchOpts []fetch.Option
	ttl       time.Duration
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	cache  *ttlcache.Cache[string, *Session]
	active atomic.Int64
	closed atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithIdleTTL sets how long a session survives without being used.
func WithIdleTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithFetchOptions passes options to every session's orchestrator.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(m *Manager) {
		m.fetchOpts = append(m.fetchOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics records session and resource metrics.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// NewManager creates a manager whose sessions build requests with builder.
// The expiry loop runs until CloseAll.
func NewManager(builder *fetch.Builder, opts ...Option) *Manager {
	m := &Manager{
		builder: builder,
		ttl:     DefaultIdleTTL,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.cache = ttlcache.New[string, *Session](
		ttlcache.WithTTL[string, *Session](m.ttl),
	)
	m.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		if reason == ttlcache.EvictionReasonExpired {
			m.logger.Info("session expired", zap.String("session_id", item.Key()))
		}
		m.closeSession(item.Value())
	})
	go m.cache.Start()

	return m
}

// Create starts a new session.
func (m *Manager) Create() (*Session, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}

	table := resource.NewTable(resource.WithObserver(m.metrics))
	orch := fetch.NewOrchestrator(table, m.builder, m.orchestratorOptions()...)
	s := newSession(uuid.NewString(), table, orch)
	s.onClose = func() {
		m.metrics.SetSessionsActive(int(m.active.Add(-1)))
	}

	m.cache.Set(s.ID, s, ttlcache.DefaultTTL)
	m.metrics.SetSessionsActive(int(m.active.Add(1)))
	m.logger.Info("session created", zap.String("session_id", s.ID))
	return s, nil
}

func (m *Manager) orchestratorOptions() []fetch.Option {
	opts := []fetch.Option{
		fetch.WithOrchestratorLogger(m.logger),
		fetch.WithMetrics(m.metrics),
	}
	return append(opts, m.fetchOpts...)
}

// Get returns the session with id and extends its idle deadline.
func (m *Manager) Get(id string) (*Session, bool) {
	item := m.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Delete closes the session with id. It reports whether it existed.
func (m *Manager) Delete(id string) bool {
	item := m.cache.Get(id, ttlcache.WithDisableTouchOnHit[string, *Session]())
	if item == nil {
		return false
	}
	m.cache.Delete(id)
	m.closeSession(item.Value())
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return int(m.active.Load())
}

// CloseAll closes every session and stops the expiry loop. Create fails
// afterwards.
func (m *Manager) CloseAll() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	sessions := m.cache.Items()
	m.cache.DeleteAll()
	m.cache.Stop()

	for _, item := range sessions {
		m.closeSession(item.Value())
	}
}

func (m *Manager) closeSession(s *Session) {
	if err := s.Close(); err != nil {
		m.logger.Warn("session teardown", zap.String("session_id", s.ID), zap.Error(err))
	}
}
