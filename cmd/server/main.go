package main

import (
	"context"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"arbor/internal/auth"
	"arbor/internal/config"
	"arbor/internal/domain/repositories"
	"arbor/internal/handler"
	"arbor/internal/handler/sse"
	"arbor/internal/middleware"
	"arbor/internal/provider"
	"arbor/internal/repository/memory"
	"arbor/internal/repository/postgres"
	chatService "arbor/internal/service/chat"
	"arbor/internal/service/chat/tools"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	// In debug mode, tee logs to a rotating file alongside stdout.
	var logOut io.Writer = os.Stdout
	if cfg.Debug {
		if logFile, err := config.SetupLogFile("logs", 5); err == nil {
			defer logFile.Close()
			logOut = io.MultiWriter(os.Stdout, logFile)
		} else {
			log.Printf("warning: file logging disabled: %v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// JWT verification: JWKS in any configured environment, dev-mode
	// passthrough only when no JWKS URL is set outside prod.
	var jwtVerifier auth.JWTVerifier
	var err error
	if cfg.JWKSURL != "" {
		jwtVerifier, err = auth.NewJWTVerifier(cfg.JWKSURL, logger)
		if err != nil {
			log.Fatalf("Failed to create JWT verifier: %v", err)
		}
	} else if cfg.Environment != "prod" {
		jwtVerifier = auth.NewDevVerifier(logger)
	} else {
		log.Fatalf("JWKS_URL is required in production")
	}
	defer jwtVerifier.Close()

	// Storage: PostgreSQL when configured, in-memory otherwise (dev only).
	ctx := context.Background()
	var store repositories.ConversationStore
	if cfg.DatabaseURL != "" {
		pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to create connection pool: %v", err)
		}
		defer pool.Close()

		logger.Info("database connected",
			"max_conns", 25,
			"min_conns", 5,
		)

		store = postgres.NewConversationRepository(&postgres.RepositoryConfig{
			Pool:   pool,
			Tables: postgres.NewTableNames(cfg.TablePrefix),
			Logger: logger,
		})
	} else if cfg.Environment != "prod" {
		logger.Warn("DATABASE_URL not set, conversations are stored in memory")
		store = memory.NewConversationRepository()
	} else {
		log.Fatalf("DATABASE_URL is required in production")
	}

	// Backends
	resolver, err := provider.NewResolver(provider.Config{
		AnthropicAPIKey:  cfg.AnthropicAPIKey,
		OpenRouterAPIKey: cfg.OpenRouterAPIKey,
		DefaultBackend:   cfg.DefaultBackend,
		ModelMapPath:     cfg.ModelMapPath,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to setup backends: %v", err)
	}

	// Tools
	registry := tools.NewRegistry()
	registry.Register(tools.FetchDefinition(), tools.NewFetchTool())
	registry.Register(tools.ClockDefinition(), &tools.ClockTool{})
	runner := tools.NewRunner(registry, logger)

	// Session manager
	manager := chatService.NewManager(
		store,
		resolver,
		runner,
		registry.Definitions,
		chatService.SessionConfig{
			EventBufferLimit: cfg.EventBufferLimit,
			BufferGrace:      cfg.BufferGrace,
			MaxIterations:    cfg.MaxIterations,
			DefaultModel:     cfg.DefaultModel,
		},
		logger,
	)

	// Handlers
	chatHandler := handler.NewChatHandler(manager, logger)
	sseHandler := handler.NewSSEHandler(manager, sse.DefaultConfig(), logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", chatHandler.HealthCheck)

	// Conversation routes
	mux.HandleFunc("GET /api/conversations/{id}", chatHandler.GetConversation)
	mux.HandleFunc("POST /api/conversations/{id}/chat", chatHandler.SubmitChat)
	mux.HandleFunc("GET /api/conversations/{id}/events", chatHandler.SyncEvents)
	mux.HandleFunc("GET /api/conversations/{id}/stream", sseHandler.Stream)
	mux.HandleFunc("POST /api/conversations/{id}/abort", chatHandler.Abort)
	mux.HandleFunc("POST /api/conversations/{id}/branch", chatHandler.SwitchBranch)

	// Build middleware chain
	// Apply in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	var httpHandler http.Handler = mux
	httpHandler = middleware.Auth(jwtVerifier, logger)(httpHandler)
	httpHandler = middleware.Recovery(logger)(httpHandler)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
		AllowCredentials: true,
	})
	httpHandler = corsHandler.Handler(httpHandler)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // Disabled to allow long-lived SSE streams
		IdleTimeout:  60 * time.Second,
	}

	// Run the server and wait for a shutdown signal
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down")

		// Cancel in-flight runs first so their final snapshots persist.
		manager.AbortAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
	logger.Info("server stopped")
}
