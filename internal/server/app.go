// Package server builds the application's dependencies and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/accountlink/internal/api"
	"github.com/JakeFAU/accountlink/internal/clock/system"
	"github.com/JakeFAU/accountlink/internal/config"
	"github.com/JakeFAU/accountlink/internal/connection"
	"github.com/JakeFAU/accountlink/internal/core/sim"
	"github.com/JakeFAU/accountlink/internal/dispatcher"
	"github.com/JakeFAU/accountlink/internal/events"
	"github.com/JakeFAU/accountlink/internal/events/sinks"
	idgen "github.com/JakeFAU/accountlink/internal/id/uuid"
	"github.com/JakeFAU/accountlink/internal/logging"
	"github.com/JakeFAU/accountlink/internal/policy/ratelimit"
	"github.com/JakeFAU/accountlink/internal/pool"
	gcppublisher "github.com/JakeFAU/accountlink/internal/publisher/pubsub"
	memorystore "github.com/JakeFAU/accountlink/internal/storage/memory"
	pgstore "github.com/JakeFAU/accountlink/internal/storage/postgres"
	"github.com/JakeFAU/accountlink/internal/store"
	"github.com/JakeFAU/accountlink/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	registry       *prometheus.Registry
	apiServer      *api.Server
	handler        http.Handler
	delivery       *dispatcher.Dispatcher
	hub            *events.Hub
	pool           *pool.Pool
	provider       connection.CoreProvider
	statusRepo     store.StatusRepository
	pgStore        *pgstore.StatusStore
	publisher      *gcppublisher.Publisher
	tracerShutdown func(context.Context) error
	closeOnce      sync.Once
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger   *zap.Logger
	provider connection.CoreProvider
}

// WithLogger replaces the logger Build would create from cfg.
func WithLogger(l *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// WithProvider replaces the simulated core provider.
func WithProvider(p connection.CoreProvider) Option {
	return func(o *buildOptions) { o.provider = p }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}
	logger := bo.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("store_provider", cfg.Store.Provider),
		zap.Bool("pubsub", cfg.PubSub.Enabled()),
		zap.Int("accounts", len(cfg.Accounts)),
	)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	app.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := app.setupTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := app.setupStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupEvents(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	provider, err := app.setupProvider(bo.provider)
	if err != nil {
		app.Close(ctx)
		return nil, err
	}
	app.provider = provider

	app.delivery = dispatcher.New(logging.Named(logger, "delivery"))
	app.pool = pool.New(pool.Config{
		Provider:           provider,
		Delivery:           app.delivery,
		Emitter:            app.hub,
		Logger:             logging.Named(logger, "pool"),
		Clock:              system.New(),
		SummarizerThrottle: cfg.Summarizer.Throttle,
		KeepAliveDelay:     cfg.Connection.KeepAliveDelay,
		BaseContext:        context.WithoutCancel(ctx),
		OnAuthFailure: func(c *connection.Connection, f *connection.AuthFailure) {
			logger.Warn("authentication failed",
				zap.Stringer("account_id", c.AccountID()),
				zap.String("title", f.Title),
				zap.String("message", f.Message))
		},
	})
	pool.SetShared(app.pool)
	for _, acct := range cfg.Accounts {
		id, err := idgen.Parse(acct.ID)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		app.pool.Connection(id)
	}

	httpMetrics, err := telemetry.NewHTTPMetrics(app.registry)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("http metrics init failed: %w", err)
	}
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Server.ConnectRPS,
		DefaultBurst: cfg.Server.ConnectBurst,
	})
	app.apiServer = api.NewServer(api.Options{
		Registry:       app.pool,
		History:        app.statusRepo,
		Logger:         logging.Named(logger, "api"),
		Metrics:        promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}),
		HTTPMetrics:    httpMetrics,
		HubStats:       app.hub.Stats,
		APIKey:         cfg.Server.APIKey,
		ConnectLimiter: limiter,
	})
	app.handler = app.apiServer.Handler()
	if cfg.Telemetry.Enabled {
		app.handler = otelhttp.NewHandler(app.handler, "accountlink.http")
	}
	return app, nil
}

// Pool returns the connection pool.
func (a *App) Pool() *pool.Pool { return a.pool }

// Provider returns the core provider connections acquire from.
func (a *App) Provider() connection.CoreProvider { return a.provider }

// Handler returns the HTTP handler serving the API.
func (a *App) Handler() http.Handler { return a.handler }

// History returns the status history repository.
func (a *App) History() store.StatusRepository { return a.statusRepo }

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close disconnects every account, then drains events and releases
// infrastructure. It is safe to call more than once and on a partially built
// App.
func (a *App) Close(ctx context.Context) {
	a.closeOnce.Do(func() { a.close(ctx) })
}

func (a *App) close(ctx context.Context) {
	if a.pool != nil {
		if err := a.pool.DisconnectAll(ctx); err != nil {
			a.logger.Warn("disconnect all failed", zap.Error(err))
		}
	}
	if a.delivery != nil {
		if err := a.delivery.Close(ctx); err != nil {
			a.logger.Warn("delivery close failed", zap.Error(err))
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, err := telemetry.InitTracerProvider(ctx, telemetry.TracerConfig{ServiceName: a.cfg.Telemetry.ServiceName})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.logger.Info("tracing enabled", zap.String("service_name", a.cfg.Telemetry.ServiceName))
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Provider {
	case config.StorePostgres:
		pg, err := pgstore.NewStatusStore(ctx, pgstore.StatusStoreConfig{
			DSN:   a.cfg.Store.DSN,
			Table: a.cfg.Store.Table,
		})
		if err != nil {
			return fmt.Errorf("status store init failed: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("status store schema failed: %w", err)
		}
		a.pgStore = pg
		a.statusRepo = pg
		a.logger.Info("postgres status store initialized", zap.String("table", a.cfg.Store.Table))
	default:
		a.statusRepo = memorystore.NewStatusStore()
		a.logger.Info("using in-memory status store")
	}
	return nil
}

func (a *App) setupEvents(ctx context.Context) error {
	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList := []events.Sink{
		promSink,
		sinks.NewStoreSink(a.statusRepo, logging.Named(a.logger, "status_store")),
	}
	if a.cfg.Logging.Development {
		sinkList = append(sinkList, sinks.NewLogSink(logging.Named(a.logger, "events")))
	}
	if a.cfg.PubSub.Enabled() {
		a.publisher, err = gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.Topic)
		if err != nil {
			return fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		sinkList = append(sinkList, sinks.NewPubSubSink(
			a.publisher,
			a.cfg.PubSub.Topic,
			logging.Named(a.logger, "pubsub"),
			events.KindStatus, events.KindConnectFailed, events.KindAuthFailure,
		))
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", a.cfg.PubSub.Topic))
	}

	hubCfg := events.Config{
		BufferSize:     a.cfg.Events.BufferSize,
		MaxBatchEvents: a.cfg.Events.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Events.MaxBatchWait,
		SinkTimeout:    a.cfg.Events.SinkTimeout,
		BaseContext:    ctx,
		Logger:         logging.Named(a.logger, "event_hub"),
	}
	a.hub = events.NewHub(hubCfg, sinkList...)
	a.logger.Info("event hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return nil
}

func (a *App) setupProvider(override connection.CoreProvider) (connection.CoreProvider, error) {
	if override != nil {
		return override, nil
	}
	provider := sim.NewProvider(
		sim.WithLatency(a.cfg.Simulator.Latency),
		sim.WithLogger(logging.Named(a.logger, "simulator")),
	)
	for _, acct := range a.cfg.Accounts {
		id, err := idgen.Parse(acct.ID)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		reach, err := ParseReachability(acct.Reachability)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", acct.Name, err)
		}
		provider.Core(id).SetReachability(reach, reachabilityDescription(reach))
	}
	return provider, nil
}

// ParseReachability maps a config value to a connection.Reachability. An
// empty value means online.
func ParseReachability(s string) (connection.Reachability, error) {
	switch s {
	case "", "online":
		return connection.ReachabilityOnline, nil
	case "connecting":
		return connection.ReachabilityConnecting, nil
	case "offline":
		return connection.ReachabilityOffline, nil
	case "unavailable":
		return connection.ReachabilityUnavailable, nil
	default:
		return 0, fmt.Errorf("unknown reachability %q", s)
	}
}

func reachabilityDescription(r connection.Reachability) string {
	switch r {
	case connection.ReachabilityOffline:
		return "No internet connection"
	case connection.ReachabilityUnavailable:
		return "Server unavailable"
	case connection.ReachabilityConnecting:
		return "Connecting"
	default:
		return ""
	}
}
