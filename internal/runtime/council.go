// Package runtime assembles the Theory Council service from configuration
// and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tjfontaine/theory-council/internal/api"
	"github.com/tjfontaine/theory-council/internal/backend"
	"github.com/tjfontaine/theory-council/internal/config"
	"github.com/tjfontaine/theory-council/internal/conversation"
	"github.com/tjfontaine/theory-council/internal/core/ports"
	"github.com/tjfontaine/theory-council/internal/council"
	"github.com/tjfontaine/theory-council/internal/pipeline"
	"github.com/tjfontaine/theory-council/internal/server"
	"github.com/tjfontaine/theory-council/internal/storage"
	"github.com/tjfontaine/theory-council/internal/telemetry"
	"github.com/tjfontaine/theory-council/internal/tokens"
)

const serviceName = "theory-council"

// Council owns the configured pipeline, conversation router, stores and
// HTTP server. It can run as a server or be driven directly through
// Runner.
type Council struct {
	// Dependencies (injected via options)
	config  ports.ConfigProvider
	backend ports.Backend
	stores  *storage.Stores
	tokens  ports.TokenCounter
	logger  *slog.Logger

	// Built by Start
	cfg            *config.Config
	engine         *pipeline.Engine
	chat           *conversation.ChatService
	runner         *conversation.Runner
	router         *conversation.Router
	server         *server.Server
	shutdownTracer func(context.Context) error

	// Lifecycle management
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
}

// New creates a Council with the given options. A config provider is
// required.
func New(opts ...Option) (*Council, error) {
	c := &Council{logger: slog.Default()}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if c.config == nil {
		return nil, errors.New("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	if c.tokens == nil {
		c.tokens = tokens.NewRegistry()
	}
	return c, nil
}

// Start loads configuration and wires every component. It does not listen;
// call Serve for that. Config changes are applied until ctx is done or
// Shutdown is called.
func (c *Council) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New("council already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	cfg, err := c.config.Load(c.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg

	c.shutdownTracer, err = telemetry.InitTracer(serviceName, telemetry.TracerOptions{Enabled: cfg.Telemetry.StdoutTraces}, c.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}

	if c.backend == nil {
		c.backend, err = backend.New(cfg.Backend)
		if err != nil {
			return fmt.Errorf("create backend: %w", err)
		}
	}

	if c.stores == nil {
		c.stores, err = storage.New(cfg.Storage)
		if err != nil {
			return fmt.Errorf("create storage: %w", err)
		}
	}

	requestTimeout, err := cfg.Server.RequestTimeoutDuration()
	if err != nil {
		return err
	}

	c.engine = council.NewEngine(c.councilOptions(cfg), c.logger)
	c.chat = conversation.NewChatService(c.backend, cfg.Models.Chat)
	c.runner = conversation.NewRunner(c.engine, c.stores.Runs, c.stores.Sessions, c.logger)
	c.router = conversation.NewRouter(c.stores.Sessions, c.chat, c.runner,
		conversation.WithLogger(c.logger),
		conversation.WithEscalation(conversation.PolicyFromConfig(cfg.Conversation.Escalation), cfg.Conversation.AutoEscalate),
	)

	c.server = server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: requestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Metrics:        cfg.Telemetry.Metrics,
		Logger:         c.logger,
	})
	api.NewHandler(c.runner, c.router, c.logger).Mount(c.server.Router)

	if err := c.config.Watch(c.ctx, c.onConfigChange); err != nil {
		c.logger.Warn("config watch unavailable", slog.String("error", err.Error()))
	}

	c.started = true
	c.logger.Info("theory council ready",
		slog.String("backend", c.backend.Name()),
		slog.String("model", cfg.Models.Default.Model),
		slog.String("integrator_model", cfg.Models.IntegratorOrDefault().Model),
		slog.String("storage", cfg.Storage.Type),
	)
	return nil
}

// Serve listens on the configured port until Shutdown.
func (c *Council) Serve() error {
	c.mu.Lock()
	srv := c.server
	c.mu.Unlock()

	if srv == nil {
		return errors.New("council not started")
	}
	return srv.Start()
}

// Run serves until ctx is done, then shuts down within shutdownTimeout.
// Start must have been called.
func (c *Council) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		defer stop()
		return c.Serve()
	})
	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return c.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Handler returns the HTTP handler with every route mounted.
func (c *Council) Handler() http.Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server == nil {
		return nil
	}
	return c.server.Router
}

// Runner returns the council runner for direct use.
func (c *Council) Runner() *conversation.Runner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner
}

// Router returns the conversation router for direct use.
func (c *Council) Router() *conversation.Router {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router
}

// Shutdown stops the server, then releases stores, the tracer and the config
// watch. It is safe to call on a council that was never started.
func (c *Council) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("shutting down theory council")

	if c.cancel != nil {
		c.cancel()
	}

	var errs []error
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if c.stores != nil {
		if err := c.stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if c.shutdownTracer != nil {
		if err := c.shutdownTracer(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if err := c.config.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close config: %w", err))
	}

	c.started = false
	return errors.Join(errs...)
}

// onConfigChange applies model, temperature and escalation settings from a
// reloaded config. Runs already in progress keep their stages. Backend,
// storage and server settings need a restart.
func (c *Council) onConfigChange(cfg *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return
	}

	if cfg.Backend != c.cfg.Backend || cfg.Storage != c.cfg.Storage || cfg.Server.Port != c.cfg.Server.Port {
		c.logger.Warn("backend, storage and server changes take effect after restart")
	}

	c.engine.SetStages(council.Stages(c.councilOptions(cfg)))
	c.chat.SetModel(cfg.Models.Chat)
	c.router.SetEscalation(conversation.PolicyFromConfig(cfg.Conversation.Escalation), cfg.Conversation.AutoEscalate)

	c.cfg = cfg
	c.logger.Info("config reloaded",
		slog.String("model", cfg.Models.Default.Model),
		slog.String("integrator_model", cfg.Models.IntegratorOrDefault().Model),
		slog.String("chat_model", cfg.Models.Chat.Model),
		slog.Bool("auto_escalate", cfg.Conversation.AutoEscalate),
	)
}

func (c *Council) councilOptions(cfg *config.Config) council.Options {
	return council.Options{
		Models:  cfg.Models,
		Backend: c.backend,
		Tokens:  c.tokens,
	}
}
