// Package app wires configuration, session storage, the tool bridge, the
// agent runtime and the Slack gateway into one runnable application.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"

	"github.com/kagent-dev/jamf-agent/internal/config"
	"github.com/kagent-dev/jamf-agent/internal/logging"
	"github.com/kagent-dev/jamf-agent/internal/metrics"
	apperrors "github.com/kagent-dev/jamf-agent/pkg/errors"
	"github.com/kagent-dev/jamf-agent/pkg/executor"
	"github.com/kagent-dev/jamf-agent/pkg/llm"
	"github.com/kagent-dev/jamf-agent/pkg/session"
	"github.com/kagent-dev/jamf-agent/pkg/slack"
	"github.com/kagent-dev/jamf-agent/pkg/tools"
)

// App represents the jamf-agent application
type App struct {
	Config     *config.Config
	Metrics    *metrics.Metrics
	Sessions   *session.Keeper
	Bridge     *tools.Bridge
	System     *executor.System
	Dispatcher *executor.Dispatcher
	Relay      *executor.Relay

	model   llm.Provider
	poster  slack.Poster
	gateway *slack.Gateway
	router  *mux.Router
}

type options struct {
	store         session.Store
	toolProviders tools.ProviderFactory
	model         llm.Provider
	poster        slack.Poster
}

// Option overrides a collaborator that New would otherwise build from
// configuration.
type Option func(*options)

func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.store = store }
}

func WithToolProviders(factory tools.ProviderFactory) Option {
	return func(o *options) { o.toolProviders = factory }
}

func WithModelProvider(p llm.Provider) Option {
	return func(o *options) { o.model = p }
}

func WithPoster(p slack.Poster) Option {
	return func(o *options) { o.poster = p }
}

// New creates the application. Nothing is connected yet: the tool
// provider starts on the first request.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "config is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid configuration", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	app := &App{
		Config:  cfg,
		Metrics: metrics.New(),
		model:   o.model,
		poster:  o.poster,
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(cfg.Sessions); err != nil {
			return nil, err
		}
	}
	app.Sessions = session.NewKeeper(store,
		session.WithTTL(cfg.Sessions.TTL),
		session.WithMetrics(app.Metrics),
	)

	bridgeOpts := []tools.BridgeOption{
		tools.WithInitTimeout(cfg.Tools.InitTimeout),
		tools.WithMetrics(app.Metrics),
	}
	if o.toolProviders != nil {
		app.Bridge = tools.NewBridge(o.toolProviders, bridgeOpts...)
	} else {
		app.Bridge = tools.NewTransportBridge(toolTransport(cfg.Tools), bridgeOpts...)
	}

	if app.model == nil {
		model, err := llm.NewProvider(llm.ModelConfig{
			Provider: cfg.Agent.Provider,
			Model:    cfg.Agent.Model,
			APIKey:   cfg.Agent.APIKey,
			BaseURL:  cfg.Agent.BaseURL,
		})
		if err != nil {
			_ = app.Sessions.Close()
			return nil, err
		}
		app.model = model
	}

	app.System = executor.NewSystem(app.Bridge, app.Sessions, app.newRuntime,
		executor.WithRequestTimeout(cfg.Agent.RequestTimeout),
		executor.WithMetrics(app.Metrics),
	)
	app.Dispatcher = executor.NewDispatcher(app.System)
	app.Relay = executor.NewRelay(app.System)

	return app, nil
}

func openStore(cfg config.SessionsConfig) (session.Store, error) {
	if cfg.Driver == "memory" {
		return session.NewMemoryStore(), nil
	}
	store, err := session.OpenGormStore(cfg.Driver, cfg.DSN, cfg.Table)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeSessionStoreUnavailable, "failed to open session store", err)
	}
	return store, nil
}

// toolTransport selects the remote transport in production and the local
// subprocess otherwise.
func toolTransport(cfg config.ToolsConfig) tools.Transport {
	if cfg.Production() {
		return tools.RemoteTransport{URL: cfg.ServerURL}
	}
	return tools.LocalTransport{
		Command: cfg.Command,
		Args:    cfg.Args,
		Env:     tools.ForwardedEnv(cfg.ForwardEnv),
	}
}

func (a *App) newRuntime(ops []tools.Operation) (llm.Runtime, error) {
	return llm.NewAgent(a.model, llm.AgentConfig{
		Model:         a.Config.Agent.Model,
		Instruction:   a.Config.Agent.Instruction,
		MaxIterations: a.Config.Agent.MaxIterations,
		MaxTokens:     a.Config.Agent.MaxTokens,
		HistoryTurns:  a.Config.Agent.HistoryTurns,
		HistoryTTL:    a.Config.Sessions.TTL,
		Operations:    ops,
	})
}

// Build creates the HTTP server serving Slack traffic, health, info and
// metrics.
func (a *App) Build(ctx context.Context) (*http.Server, error) {
	if err := a.Config.ValidateSlack(); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid slack configuration", err)
	}

	poster := a.poster
	if poster == nil {
		poster = slack.NewAPIPoster(a.Config.Slack.BotToken, a.Config.Slack.APIURL,
			slack.WithUpdateRate(a.Config.Slack.UpdatesPerSec),
			slack.WithMaxRetries(a.Config.Slack.MaxRetries),
		)
	}

	a.gateway = slack.NewGateway(
		slack.Config{
			Command:         a.Config.Slack.Command,
			StreamBatchSize: a.Config.Slack.StreamBatchSize,
			AsyncTimeout:    a.Config.Agent.RequestTimeout,
			Metrics:         a.Metrics,
		},
		slack.NewVerifier(a.Config.Slack.SigningSecret, slack.WithMaxClockSkew(a.Config.Slack.MaxClockSkew)),
		a.Sessions, a.Dispatcher, a.Relay, poster,
	)

	a.router = mux.NewRouter()
	a.setupRoutes(logr.FromContextOrDiscard(ctx))

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}, nil
}

func (a *App) setupRoutes(log logr.Logger) {
	a.router.Use(withLogger(log))

	a.router.Handle("/slack/events", a.gateway).Methods("POST")
	a.router.HandleFunc("/health", a.handleHealth).Methods("GET")
	a.router.HandleFunc("/info", a.handleInfo).Methods("GET")
	a.router.Handle("/metrics", a.Metrics.Handler()).Methods("GET")
}

// withLogger makes log available to handlers through the request context.
func withLogger(log logr.Logger) mux.MiddlewareFunc {
	log = log.WithName(logging.CompHTTP)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r.WithContext(logr.NewContext(r.Context(), log)))
			log.V(1).Info("Handled request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start).String())
		})
	}
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func (a *App) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	info := map[string]any{
		"provider":          a.model.Name(),
		"model":             a.Config.Agent.Model,
		"command":           a.Config.Slack.Command,
		"tools_initialized": a.Bridge.Initialized(),
		"tools":             len(a.Bridge.Tools()),
	}
	json.NewEncoder(w).Encode(info)
}

// Wait blocks until the gateway's background work has drained.
func (a *App) Wait() {
	if a.gateway != nil {
		a.gateway.Wait()
	}
}

// Close releases the tool provider and the session store.
func (a *App) Close() error {
	var result *multierror.Error
	if err := a.Bridge.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close tool bridge: %w", err))
	}
	if err := a.Sessions.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close session store: %w", err))
	}
	return result.ErrorOrNil()
}
