package executor

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/internal/metrics"
	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

const DefaultRequestTimeout = 2 * time.Minute

// ToolSource is the part of the tool bridge the system depends on
type ToolSource interface {
	Initialize(ctx context.Context) error
	Operations() []tools.Operation
}

// SessionSource supplies ids for requests that arrive without one
type SessionSource interface {
	EphemeralID() string
}

// RuntimeFactory builds the agent runtime once the tools are known.
type RuntimeFactory func(ops []tools.Operation) (llm.Runtime, error)

// System owns the lazily initialized tool bridge and agent runtime shared
// by the Dispatcher and the Relay.
type System struct {
	tools      ToolSource
	sessions   SessionSource
	newRuntime RuntimeFactory
	timeout    time.Duration
	metrics    *metrics.Metrics

	group   singleflight.Group
	mu      sync.RWMutex
	runtime llm.Runtime
}

// Option configures a System
type Option func(*System)

// WithRequestTimeout bounds each request; zero keeps the default.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *System) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// NewSystem creates an uninitialized System
func NewSystem(toolSource ToolSource, sessions SessionSource, factory RuntimeFactory, opts ...Option) *System {
	s := &System{
		tools:      toolSource,
		sessions:   sessions,
		newRuntime: factory,
		timeout:    DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready initializes the tool bridge and builds the runtime on first use.
// Concurrent first callers share one initialization.
func (s *System) Ready(ctx context.Context) (llm.Runtime, error) {
	s.mu.RLock()
	rt := s.runtime
	s.mu.RUnlock()
	if rt != nil {
		return rt, nil
	}

	v, err, _ := s.group.Do("runtime", func() (any, error) {
		s.mu.RLock()
		existing := s.runtime
		s.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}

		if err := s.tools.Initialize(ctx); err != nil {
			return nil, err
		}
		built, err := s.newRuntime(s.tools.Operations())
		if err != nil {
			return nil, apperrors.New(apperrors.ErrCodeAgentConfig, "failed to build agent runtime", err)
		}

		s.mu.Lock()
		s.runtime = built
		s.mu.Unlock()
		logr.FromContextOrDiscard(ctx).WithName(logging.CompExecutor).Info("Agent runtime ready")
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(llm.Runtime), nil
}

// sessionID returns id, or a fresh ephemeral id flagged as such when the
// caller has no session.
func (s *System) sessionID(id string) (string, bool) {
	if id != "" {
		return id, false
	}
	return s.sessions.EphemeralID(), true
}

// consolidate wraps a failure in a single request-level error, keeping the
// bridge codes visible through the chain.
func consolidate(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeAgentRuntime, "agent request failed", err)
}
