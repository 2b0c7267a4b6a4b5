// varmatrix serves the WooCommerce variation matrix: the boundary operations
// over REST and MCP, and the matrix dialog as server-side sessions.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"varmatrix/internal/audit"
	"varmatrix/internal/config"
	"varmatrix/internal/handler"
	"varmatrix/internal/metrics"
	"varmatrix/internal/middleware"
	"varmatrix/internal/session"
	"varmatrix/internal/transport"
	"varmatrix/internal/woocommerce"
)

// upstreamTimeout bounds every call to the store.
const upstreamTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Initialize structured logger
	logger := initLogger()
	slog.SetDefault(logger)

	// Load configuration
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("store_url", cfg.Store.StoreURL),
		slog.String("session_store", cfg.Sessions.Backend),
		slog.Bool("audit", cfg.AuditDB != ""),
	)

	m := metrics.New()

	// Chrome TLS fingerprint avoids JA3-based rate limiting on store CDNs.
	host, err := woocommerce.New(woocommerce.Config{
		StoreURL:      cfg.Store.StoreURL,
		APIKey:        cfg.Store.APIKey,
		APISecret:     cfg.Store.APISecret,
		BatchStrategy: woocommerce.BatchStrategy(cfg.BatchStrategy),
		Transport:     m.InstrumentRoundTripper(transport.NewChromeTransport(upstreamTimeout)),
	})
	if err != nil {
		return fmt.Errorf("creating woocommerce client: %w", err)
	}

	store, closeStore, err := createSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithMetrics(m),
	}
	handlerOpts := []handler.Option{handler.WithMetrics(m)}

	if cfg.AuditDB != "" {
		journal, err := audit.NewSQLiteJournal(cfg.AuditDB)
		if err != nil {
			return fmt.Errorf("opening audit journal: %w", err)
		}
		defer journal.Close()
		sessionOpts = append(sessionOpts, session.WithJournal(journal))
		handlerOpts = append(handlerOpts, handler.WithJournal(journal))
	}

	nonces := middleware.NewNonceIssuer(cfg.Store.NonceSecret)
	handlerOpts = append(handlerOpts, handler.WithNonces(nonces))

	sessions := session.NewManager(host, store, sessionOpts...)
	h := handler.New(host, sessions, logger, handlerOpts...)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → logging → credential → version → rate limit → handler
	// Recovery must be outermost to catch panics from logging middleware.
	// Credentials are checked before anything touches store data.
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.Authenticate(middleware.NewAuthenticator(cfg.Store.AdminKeys, nonces), logger),
		middleware.Version(middleware.APIVersion),
		middleware.RateLimit(middleware.NewLimiter(cfg.RateLimit, cfg.RateBurst)),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("api_version", middleware.APIVersion),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests (including in-flight submissions) time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// createSessionStore opens the configured session backend and returns a
// func that releases it.
func createSessionStore(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	switch cfg.Sessions.Backend {
	case config.SessionStoreRedis:
		store := session.NewRedisStore(cfg.Sessions.RedisAddr, cfg.Sessions.RedisPassword, cfg.Sessions.RedisDB,
			session.WithTTL(cfg.Sessions.TTL))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			store.Close()
			return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Sessions.RedisAddr, err)
		}
		return store, func() { store.Close() }, nil
	default:
		return session.NewMemoryStore(session.WithTTL(cfg.Sessions.TTL)), func() {}, nil
	}
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	// JSON for production (Cloud Logging compatible), text for development
	if os.Getenv("ENVIRONMENT") == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
