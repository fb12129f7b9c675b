// Package server wires Cortex's components together into a running
// process: Store, the fast KV tier, LLMClient, EventShaper, Compiler,
// Matcher, Runtime, ToolExecutor, the Connection registry, Dispatcher,
// and WebhookFront's HTTP handler, following the teacher's
// gateway.NewManagedServer pattern of one constructor assembling every
// subsystem from a single Config and exposing Start/Stop.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexflow/cortex/internal/compiler"
	"github.com/cortexflow/cortex/internal/config"
	"github.com/cortexflow/cortex/internal/connections"
	"github.com/cortexflow/cortex/internal/dispatcher"
	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/llm"
	"github.com/cortexflow/cortex/internal/matcher"
	"github.com/cortexflow/cortex/internal/observability"
	"github.com/cortexflow/cortex/internal/runtime"
	"github.com/cortexflow/cortex/internal/shaper"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/internal/toolexecutor"
	"github.com/cortexflow/cortex/internal/webhook"
)

// Server owns every Cortex subsystem's lifecycle: the dispatcher's
// worker pools and the HTTP listener WebhookFront and the Control API
// are mounted on.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	store store.Store
	cache kv.Store

	dispatcher     *dispatcher.Dispatcher
	httpServer     *http.Server
	traceShutdown  func(context.Context) error

	startTime time.Time
}

// New builds every component from cfg but does not start the dispatcher
// pools or the HTTP listener; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	cache, err := newCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	provider, err := newLLMProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}
	llmClient := llm.NewCachedClient(provider, cache, cfg.LLM.CacheTTL)

	tools := toolexecutor.NewRegistry()
	registerTools(tools, cfg)
	notifier := toolexecutor.NewNotifier(tools)

	comp, err := compiler.New(llmClient, tools, cfg.Runtime.MaxWait)
	if err != nil {
		return nil, fmt.Errorf("compiler: %w", err)
	}

	eventShaper := shaper.New(st, cache, shaper.Config{
		RetainRawPayload:  cfg.Shaper.RetainRawPayload,
		StateTTL:          cfg.Shaper.StateTTL,
		StateMaxPerSource: cfg.Shaper.StateMaxPerSource,
	})

	match := matcher.New(st, st, llmClient, cache, cfg.Dispatcher.MatcherWorkers)

	rt := runtime.New(st, st, st, llmClient, tools, notifier, runtime.Config{
		ToolTimeout: cfg.Runtime.ToolTimeout,
		LLMTimeout:  cfg.Runtime.LLMTimeout,
		MaxWait:     cfg.Runtime.MaxWait,
		MaxAttempts: cfg.Runtime.MaxAttempts,
	})

	metrics := observability.NewMetrics()

	disp := dispatcher.New(eventShaper, match, rt, observability.NewDispatcherMetrics(metrics), logger, dispatcher.Config{
		ShaperWorkers:     cfg.Dispatcher.ShaperWorkers,
		ShaperQueueDepth:  cfg.Dispatcher.ShaperQueueDepth,
		MatcherWorkers:    cfg.Dispatcher.MatcherWorkers,
		MatcherQueueDepth: cfg.Dispatcher.MatcherQueueDepth,
		RuntimeWorkers:    cfg.Dispatcher.RuntimeWorkers,
		RuntimeQueueDepth: cfg.Dispatcher.RuntimeQueueDepth,
		EnqueueBudget:     cfg.Server.EnqueueBudget,
	})

	connRegistry := connections.New(st, cache, cfg.Cache.DedupTTL)

	webhookHandler := webhook.New(webhook.Config{
		Connections: connRegistry,
		Dispatcher:  disp,
		Compiler:    comp,
		Units:       st,
		Runs:        st,
		Metrics:     observability.NewWebhookMetrics(metrics),
		Logger:      logger,
	})

	tracer, traceShutdown := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "cortex",
		ServiceVersion: "dev",
		Environment:    string(cfg.RuntimeMode),
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	webhookHandler.Mount(mux)

	return &Server{
		cfg:           cfg,
		logger:        logger,
		store:         st,
		cache:         cache,
		dispatcher:    disp,
		traceShutdown: traceShutdown,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           tracingMiddleware(tracer, mux),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// tracingMiddleware wraps every inbound request in an HTTP span, per
// spec's ambient observability stack.
func tracingMiddleware(tracer *observability.Tracer, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.TraceHTTPRequest(r.Context(), r.Method, r.URL.Path)
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start starts the dispatcher's worker pools and the HTTP listener. It
// blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.logger.Info("cortex server started", "addr", s.httpServer.Addr)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Stop gracefully drains the HTTP listener and the dispatcher's pools.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.dispatcher.Stop()
	_ = s.traceShutdown(ctx)
	_ = s.cache.Close()
	return s.store.Close()
}

func newStore(cfg config.Config) (store.Store, error) {
	if cfg.Store.URL == "" {
		return store.NewMemoryStore(), nil
	}
	return store.NewPostgresStore(cfg.Store.URL, &store.PostgresConfig{
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Store.ConnectTimeout,
	})
}

func newCache(cfg config.Config) (kv.Store, error) {
	if cfg.Cache.URL == "" {
		return kv.NewMemoryStore(100000), nil
	}
	return kv.NewRedisStore(cfg.Cache.URL)
}

func newLLMProvider(cfg config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       cfg.LLM.APIKey,
			DefaultModel: cfg.LLM.Model,
		})
	case "anthropic", "":
		return llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.LLM.APIKey,
			DefaultModel: cfg.LLM.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

// registerTools populates the ToolExecutor registry from cfg.Tools (spec
// §9: "a registry populated at startup from a config file"), plus the
// reserved notification/send slot every deployment gets regardless of
// config (spec's "notify: a specialized tool call to the user's
// notification channel").
func registerTools(registry *toolexecutor.Registry, cfg config.Config) {
	for _, t := range cfg.Tools {
		authValue := t.AuthValue
		if authValue == "" {
			authValue = cfg.SaaS.Secret
		}
		invoke := toolexecutor.NewHTTPInvoke(toolexecutor.HTTPEndpoint{
			Method:     t.Method,
			URL:        t.URL,
			AuthHeader: t.AuthHeader,
			AuthValue:  authValue,
		})
		_ = registry.Register(&toolexecutor.Tool{
			Provider:    t.Provider,
			Name:        t.Name,
			Description: t.Description,
			Required:    t.Required,
			Optional:    t.Optional,
			ReadOnly:    t.ReadOnly,
			Invoke:      invoke,
		})
	}

	_ = registry.Register(&toolexecutor.Tool{
		Provider:    "notification",
		Name:        "send",
		Description: "Deliver a notification to the user through their configured channel.",
		Required:    []string{"message"},
		Invoke:      logNotificationInvoke,
	})
}

func logNotificationInvoke(ctx context.Context, userID string, inputs map[string]any) (map[string]any, error) {
	slog.Default().Info("notification", "user_id", userID, "message", inputs["message"])
	return map[string]any{"delivered": true}, nil
}
