package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/internal/metrics"
	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
)

const defaultInitTimeout = 30 * time.Second

// ProviderFactory creates a fresh, unconnected provider.
type ProviderFactory func() (Provider, error)

// Bridge exposes the provider's tools as named callable operations. It
// connects and discovers lazily, exactly once per successful attempt.
type Bridge struct {
	newProvider ProviderFactory
	initTimeout time.Duration
	metrics     *metrics.Metrics

	group singleflight.Group

	mu       sync.RWMutex
	provider Provider
	tools    map[string]Descriptor
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithInitTimeout bounds the handshake and discovery.
func WithInitTimeout(d time.Duration) BridgeOption {
	return func(b *Bridge) { b.initTimeout = d }
}

func WithMetrics(m *metrics.Metrics) BridgeOption {
	return func(b *Bridge) { b.metrics = m }
}

// NewBridge creates an uninitialized bridge
func NewBridge(factory ProviderFactory, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		newProvider: factory,
		initTimeout: defaultInitTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewTransportBridge creates a bridge whose provider is built from t.
func NewTransportBridge(t Transport, opts ...BridgeOption) *Bridge {
	return NewBridge(func() (Provider, error) { return NewProvider(t) }, opts...)
}

// Initialized reports whether discovery has completed.
func (b *Bridge) Initialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tools != nil
}

// Initialize connects to the provider and discovers its tools. Concurrent
// callers share a single attempt; a failed attempt leaves the bridge
// uninitialized so a later call can retry.
func (b *Bridge) Initialize(ctx context.Context) error {
	if b.Initialized() {
		return nil
	}
	_, err, _ := b.group.Do("init", func() (any, error) {
		if b.Initialized() {
			return nil, nil
		}
		return nil, b.initialize(ctx)
	})
	return err
}

func (b *Bridge) initialize(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompTools)

	// Shared by every waiter, so the first caller's cancellation must not
	// abort it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.initTimeout)
	defer cancel()

	provider, err := b.newProvider()
	if err != nil {
		return err
	}

	start := time.Now()
	if err := provider.Connect(ctx); err != nil {
		_ = provider.Close()
		return apperrors.New(apperrors.ErrCodeToolTransport, "failed to connect to tool provider", err)
	}

	discovered, err := provider.ListTools(ctx)
	if err != nil {
		_ = provider.Close()
		return apperrors.New(apperrors.ErrCodeToolTransport, "failed to discover tools", err)
	}

	byName := make(map[string]Descriptor, len(discovered))
	for _, d := range discovered {
		if _, exists := byName[d.Name]; exists {
			_ = provider.Close()
			return apperrors.New(apperrors.ErrCodeDuplicateTool, fmt.Sprintf("tool %s advertised more than once", d.Name), nil)
		}
		byName[d.Name] = d
	}

	b.mu.Lock()
	b.provider = provider
	b.tools = byName
	b.mu.Unlock()

	log.Info("Tool bridge initialized", "tools", len(byName), "duration", time.Since(start).String())
	return nil
}

// Tools returns the discovered descriptors sorted by name.
func (b *Bridge) Tools() []Descriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Descriptor, 0, len(b.tools))
	for _, d := range b.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Operations returns one bound operation per discovered tool.
func (b *Bridge) Operations() []Operation {
	descs := b.Tools()
	ops := make([]Operation, 0, len(descs))
	for _, d := range descs {
		ops = append(ops, Operation{Descriptor: d, Invoke: b.Invoker(d.Name)})
	}
	return ops
}

// Invoker returns an invoker bound to name.
func (b *Bridge) Invoker(name string) Invoker {
	return func(ctx context.Context, args map[string]any) (string, error) {
		return b.Invoke(ctx, name, args)
	}
}

// Invoke calls a discovered tool and returns the text of its first
// content element, or "" when the result carries no content.
func (b *Bridge) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	b.mu.RLock()
	provider, tools := b.provider, b.tools
	b.mu.RUnlock()

	if tools == nil {
		return "", apperrors.New(apperrors.ErrCodeBridgeNotInitialized, "tool bridge is not initialized", nil)
	}
	if _, ok := tools[name]; !ok {
		b.metrics.ToolInvocation(name, "not_found")
		return "", apperrors.New(apperrors.ErrCodeToolNotFound, fmt.Sprintf("tool %s not found", name), nil)
	}

	log := logr.FromContextOrDiscard(ctx).WithName(logging.CompTools)
	log.V(1).Info("Invoking tool", "tool", name)

	res, err := provider.CallTool(ctx, name, args)
	if err != nil {
		b.metrics.ToolInvocation(name, "transport_error")
		return "", apperrors.New(apperrors.ErrCodeToolTransport, fmt.Sprintf("tool %s call failed", name), err)
	}

	var text string
	if len(res.Content) > 0 {
		text = res.Content[0]
	}
	if res.IsError {
		b.metrics.ToolInvocation(name, "tool_error")
		return text, apperrors.New(apperrors.ErrCodeToolExecution, fmt.Sprintf("tool %s reported an error", name), nil)
	}

	b.metrics.ToolInvocation(name, "ok")
	return text, nil
}

// Close shuts the provider down and returns the bridge to the
// uninitialized state.
func (b *Bridge) Close() error {
	b.mu.Lock()
	provider := b.provider
	b.provider, b.tools = nil, nil
	b.mu.Unlock()

	if provider == nil {
		return nil
	}
	return provider.Close()
}
