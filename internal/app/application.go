package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"classpulse/internal/api"
	"classpulse/internal/broadcast"
	"classpulse/internal/config"
	"classpulse/internal/engagement"
	"classpulse/internal/quiz"
	"classpulse/internal/resolver"
	"classpulse/internal/rooms"
	"classpulse/internal/scheduler"
	"classpulse/internal/session"
	"classpulse/internal/store"
	"classpulse/internal/websocket"
)

// Application coordinates all system components.
// Initialization order: Store → Sessions → Rooms → Classifier → Scheduler →
// Quiz → Sockets → API → HTTP
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	store      *store.Manager
	sessions   *session.Directory
	registry   *rooms.Registry
	scheduler  *scheduler.Scheduler
	dispatcher *scheduler.Dispatcher
	janitor    *rooms.Janitor
	sockets    *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
}

// StoreConfig maps the database section onto store settings.
func StoreConfig(cfg *config.Config) store.Config {
	sc := store.DefaultConfig()
	sc.Path = cfg.Database.Path
	sc.MaxConnections = cfg.Database.MaxConnections
	sc.WriteTimeout = cfg.Database.Timeout
	sc.RetryDelay = cfg.Database.RetryDelay
	sc.AutoMigrate = cfg.Database.AutoMigrate
	return sc
}

func socketConfig(cfg *config.Config) websocket.Config {
	wc := websocket.DefaultConfig()
	wc.PingInterval = cfg.WebSocket.PingInterval
	wc.ReadTimeout = cfg.WebSocket.ReadTimeout
	wc.WriteTimeout = cfg.WebSocket.WriteTimeout
	wc.HandshakeTimeout = cfg.WebSocket.HandshakeTimeout
	wc.SendBuffer = cfg.WebSocket.BufferSize
	wc.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	wc.RateLimit = cfg.WebSocket.RateLimit
	wc.RateWindow = cfg.WebSocket.RateWindow
	return wc
}

// NewApplication builds every component. A nil logger is replaced with a
// no-op one.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the store; migrations run here when auto-migrate is on
	st, err := store.Open(StoreConfig(cfg), logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// STEP 2: Warm the session directory with sessions that were open at shutdown
	sessions := session.NewDirectory(st, logger.Named("sessions"))
	if err := sessions.LoadActiveSessions(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}

	// STEP 3: Connection registry and the broadcast engine over it
	registry := rooms.NewRegistry(rooms.WithLogger(logger.Named("rooms")))
	engine := broadcast.NewEngine(registry, logger.Named("broadcast"))

	// STEP 4: Classifier; an empty model path uses the built-in weights, a missing file is an error
	predictor, err := engagement.NewPredictorFromFile(cfg.Classifier.ModelPath, logger.Named("classifier"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to load engagement model: %w", err)
	}

	// STEP 5: Adaptive scheduler
	sched := scheduler.New(predictor,
		scheduler.WithHistoryCap(cfg.Scheduler.HistoryCap),
		scheduler.WithLogger(logger.Named("scheduler")))

	// STEP 6: Quiz delivery, resolving references through the directory
	quizSvc := quiz.NewService(
		resolver.New(sessions, registry, logger.Named("resolver")),
		engine, st,
		quiz.WithRecorder(st),
		quiz.WithTracker(sched),
		quiz.WithExpectedTime(cfg.Classifier.ExpectedTime),
		quiz.WithLogger(logger.Named("quiz")))

	// STEP 7: Websocket endpoints and background loops
	sockets := websocket.NewHandler(registry, quizSvc, sched, socketConfig(cfg), logger.Named("websocket"))
	dispatcher := scheduler.NewDispatcher(sched, quizSvc, cfg.Scheduler.TickInterval, logger.Named("dispatcher"))
	janitor := rooms.NewJanitor(registry, cfg.Rooms.LeftRetention, cfg.Rooms.JanitorInterval, logger.Named("janitor"),
		rooms.Sweep{Name: "rate_limiter", Run: sockets.Limiter().Cleanup})

	// STEP 8: HTTP surface
	apiServer := api.NewServer(api.Deps{
		Store:     st,
		Sessions:  sessions,
		Registry:  registry,
		Engine:    engine,
		Quiz:      quizSvc,
		Scheduler: sched,
		Predictor: predictor,
		Sockets:   sockets,
		Logger:    logger.Named("api"),
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		store:      st,
		sessions:   sessions,
		registry:   registry,
		scheduler:  sched,
		dispatcher: dispatcher,
		janitor:    janitor,
		sockets:    sockets,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start launches the background loops and then the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	app.logger.Info("starting classpulse", zap.String("addr", app.httpServer.Addr))

	// STEP 1: Dispatcher pushes questions to students whose deadline passed
	if app.config.Scheduler.Enabled {
		if err := app.dispatcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start dispatcher: %w", err)
		}
	}

	// STEP 2: Janitor evicts departed participants
	if err := app.janitor.Start(ctx); err != nil {
		app.stopLoops()
		return fmt.Errorf("failed to start janitor: %w", err)
	}

	// STEP 3: Accept connections
	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		app.stopLoops()
		return err
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("classpulse started")
		return nil
	case <-ctx.Done():
		app.stopLoops()
		return ctx.Err()
	}
}

func (app *Application) stopLoops() {
	if app.config.Scheduler.Enabled {
		if err := app.dispatcher.Stop(); err != nil && !errors.Is(err, scheduler.ErrDispatcherNotRunning) {
			app.logger.Warn("dispatcher shutdown error", zap.Error(err))
		}
	}
	if err := app.janitor.Stop(); err != nil && !errors.Is(err, rooms.ErrJanitorNotRunning) {
		app.logger.Warn("janitor shutdown error", zap.Error(err))
	}
}

// Stop shuts down in reverse order: HTTP → loops → connections → store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down classpulse")

	// STEP 1: Stop accepting requests
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// STEP 2: Stop background loops
	app.stopLoops()

	// STEP 3: Close every live socket and wait for their goroutines
	app.registry.Close()
	app.sockets.Wait()

	// STEP 4: Flush queued writes and close the database
	if err := app.store.Close(); err != nil {
		app.logger.Error("store shutdown error", zap.Error(err))
		return err
	}

	app.logger.Info("classpulse shutdown complete")
	return nil
}

// Addr returns the configured listen address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests.
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
