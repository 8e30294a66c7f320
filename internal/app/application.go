package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"classchat/internal/api"
	"classchat/internal/auth"
	"classchat/internal/authz"
	"classchat/internal/config"
	"classchat/internal/database"
	"classchat/internal/hub"
	"classchat/internal/logging"
	"classchat/internal/metrics"
	"classchat/internal/registry"
	"classchat/internal/session"
	"classchat/internal/store"
	"classchat/internal/websocket"
	"classchat/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	backend    interfaces.MessageBackend
	roster     authz.Roster
	resolver   io.Closer
	metrics    *metrics.Metrics
	registry   *registry.Registry
	hub        *hub.Hub
	sessions   *session.Manager
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	log        zerolog.Logger

	addrMu   sync.RWMutex
	addr     string
	stopOnce sync.Once
	stopErr  error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Storage → Gate → Resolver → Registry → Hub → Sessions → Transport → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logging.L().With().Str(logging.FieldComponent, "app").Logger()
	m := metrics.New()

	// STEP 1: Message storage and the lookup tables behind the gate
	var (
		be     interfaces.MessageBackend
		lookup interface {
			authz.Roster
			interfaces.AssignmentLookup
			interfaces.EnrollmentLookup
		}
	)
	switch cfg.Chat.Backend {
	case config.BackendMemory:
		be = store.NewMemoryBackend()
		lookup = authz.NewMemoryRoster()
		log.Warn().Msg("Using in-memory message store; history is lost on restart")
	default:
		dbConfig := cfg.Database
		dbManager, err := database.NewManager(&dbConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		// STEP 1.5: Apply database migrations to ensure schema is up to date
		if err := dbManager.Migrate(); err != nil {
			_ = dbManager.Close()
			return nil, fmt.Errorf("failed to apply database migrations: %w", err)
		}
		log.Info().Str("path", dbConfig.DatabasePath).Msg("Database migrations applied successfully")
		be = dbManager
		lookup = dbManager
	}

	// STEP 2: Authorization gate and identity resolver
	gate := authz.New(lookup, lookup, cfg.Authz, m)
	resolver, resolverCloser, err := auth.NewResolver(cfg.Auth, cfg.Redis)
	if err != nil {
		_ = be.Close()
		return nil, fmt.Errorf("failed to initialize identity resolver: %w", err)
	}

	// STEP 3: Registry, dispatcher and session workflow
	reg := registry.New(m)
	messageHub := hub.New(reg, m)
	messages := store.New(be, cfg.Chat.StoreConfig())
	sessions := session.NewManager(resolver, gate, messages, reg, messageHub, m, cfg.Chat.SessionConfig())

	// STEP 4: WebSocket transport and HTTP API on one router
	wsHandler := websocket.NewHandler(sessions, cfg.WebSocket, m)
	apiServer := api.NewServer(api.Dependencies{
		Chat:           sessions,
		Resolver:       resolver,
		Health:         messages,
		Stats:          reg,
		Metrics:        m.Handler(),
		WebSocket:      wsHandler,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		backend:    be,
		roster:     lookup,
		resolver:   resolverCloser,
		metrics:    m,
		registry:   reg,
		hub:        messageHub,
		sessions:   sessions,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
		log:        log,
	}, nil
}

// Run serves until ctx is cancelled or the server fails, then shuts down.
// TECHNICAL DISCOVERY: errgroup ties the listener, the limiter sweeper and
// the shutdown trigger together so a failure in one stops the others
func (app *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.addrMu.Lock()
	app.addr = ln.Addr().String()
	app.addrMu.Unlock()

	app.log.Info().Str("addr", app.Addr()).Msg("Starting classchat")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		app.sweepLimiters(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})

	return g.Wait()
}

// sweepLimiters drops idle per-user limiters until ctx ends.
func (app *Application) sweepLimiters(ctx context.Context) {
	interval := app.config.Chat.LimiterIdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := app.sessions.CleanupLimiters(); n > 0 {
				app.log.Debug().Int("removed", n).Msg("Idle rate limiters removed")
			}
		}
	}
}

// Stop gracefully shuts down the application
// Shutdown coordination ensures proper resource cleanup
// Reverse dependency order: HTTP → Connections → Resolver → Storage
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.log.Info().Msg("Shutting down classchat")
		var errs []error

		// STEP 1: Stop accepting new connections
		if err := app.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
		}

		// STEP 2: Close every websocket; each one flushes its queue first
		app.hub.Shutdown()
		done := make(chan struct{})
		go func() {
			app.wsHandler.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Unauthenticated sockets still in their grace period are not
			// registered with the hub; they end on their own read deadline
			app.log.Warn().Msg("Timed out waiting for connections to close")
		}

		// STEP 3: Release the resolver's client and drain the database writer
		if err := app.resolver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("resolver close: %w", err))
		}
		if err := app.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}

		app.stopErr = errors.Join(errs...)
		if app.stopErr != nil {
			app.log.Error().Err(app.stopErr).Msg("Shutdown completed with errors")
			return
		}
		app.log.Info().Msg("Classchat shutdown complete")
	})
	return app.stopErr
}

// Addr returns the bound listen address once Run has started, otherwise
// the configured one.
func (app *Application) Addr() string {
	app.addrMu.RLock()
	defer app.addrMu.RUnlock()
	if app.addr != "" {
		return app.addr
	}
	return app.httpServer.Addr
}

// Handler exposes the full HTTP surface, for tests that bring their own server.
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Roster seeds assignments and enrollments in the active backend.
func (app *Application) Roster() authz.Roster {
	return app.roster
}
