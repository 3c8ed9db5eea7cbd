// Freezone Advisor - chat backend that collects company setup details and
// recommends UAE freezones.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/freezone-advisor/internal/api"
	"github.com/ashureev/freezone-advisor/internal/chat"
	"github.com/ashureev/freezone-advisor/internal/config"
	"github.com/ashureev/freezone-advisor/internal/extract"
	"github.com/ashureev/freezone-advisor/internal/freezone"
	"github.com/ashureev/freezone-advisor/internal/identity"
	"github.com/ashureev/freezone-advisor/internal/llm"
	"github.com/ashureev/freezone-advisor/internal/metrics"
	"github.com/ashureev/freezone-advisor/internal/middleware"
	"github.com/ashureev/freezone-advisor/internal/slots"
	"github.com/ashureev/freezone-advisor/internal/store"
)

const healthWatchInterval = 15 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"session_store", cfg.SessionStore,
		"llm_provider", cfg.LLM.Provider,
	)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sessions, closeSessions, err := openSessionStore(cfg, repo, logger)
	if err != nil {
		slog.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer closeSessions()

	m := metrics.New()

	extractor, extractorName, err := newExtractor(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize extractor", "error", err)
		os.Exit(1)
	}
	slog.Info("Extractor ready", "extractor", extractorName)

	policy, err := slots.ParseUnknownSlotPolicy(cfg.UnknownSlotPolicy)
	if err != nil {
		slog.Error("Invalid slot policy", "error", err)
		os.Exit(1)
	}

	recommender := freezone.NewRecommender(freezone.DefaultCatalog())
	engine, err := slots.NewEngine(slots.DefaultSchema(), sessions, m.InstrumentExtractor(extractorName, extractor), slots.Options{
		UnknownSlots:      policy,
		ExtractionTimeout: cfg.ExtractionTimeout,
		Suggest:           recommender.Suggest,
		Logger:            logger,
	})
	if err != nil {
		slog.Error("Failed to initialize slot engine", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("Failed to close conversation logger", "error", closeErr)
		}
	}()

	tokens := identity.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	origins := cfg.AllowedOrigins()

	// Initialize handlers.
	authHandler := api.NewAuthHandler(repo, tokens, cfg.MaxRequestBodySize)
	healthHandler := api.NewHealthHandler(repo)
	chatHandler := chat.NewHandler(chat.NewService(repo, engine), tokens, chat.HandlerOptions{
		RateLimiter:    chat.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		Log:            conversationLogger,
		Observer:       m,
		MaxBodySize:    cfg.MaxRequestBodySize,
		OriginPatterns: chat.OriginPatterns(origins),
	})
	defer chatHandler.Close()

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", m.Handler())
	authHandler.RegisterRoutes(r)

	// Authenticated routes.
	chatHandler.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Extraction may take up to ExtractionTimeout; keep room for the reply.
		WriteTimeout: cfg.ExtractionTimeout + 15*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	grpcSrv, err := startGRPCHealth(ctx, cfg.GRPCHealthPort, healthHandler)
	if err != nil {
		slog.Error("Failed to start gRPC health server", "error", err)
		os.Exit(1)
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// openSessionStore returns the slot-session store selected by SESSION_STORE
// and a function releasing it.
func openSessionStore(cfg *config.Config, repo *store.SQLiteStore, logger *slog.Logger) (slots.Store, func(), error) {
	switch cfg.SessionStore {
	case config.SessionStoreBadger:
		db, err := store.OpenBadger(cfg.BadgerPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				slog.Error("Failed to close badger", "error", err)
			}
		}, nil
	case config.SessionStoreMemory:
		slog.Warn("Sessions are kept in memory and will be lost on restart")
		return slots.NewMemoryStore(), func() {}, nil
	default:
		return repo, func() {}, nil
	}
}

// newExtractor builds the extractor for LLM_PROVIDER and returns it with the
// name used in metrics.
func newExtractor(cfg *config.Config, logger *slog.Logger) (slots.Extractor, string, error) {
	if cfg.LLM.Provider == config.ProviderRules {
		return extract.NewRules(), config.ProviderRules, nil
	}
	client, err := llm.New(llm.Config{
		Provider:   cfg.LLM.Provider,
		Model:      cfg.LLM.Model,
		APIKey:     cfg.LLM.APIKey(),
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		Timeout:    cfg.ExtractionTimeout,
		Logger:     logger,
	})
	if err != nil {
		return nil, "", err
	}
	return extract.NewLLM(client, logger), client.Provider(), nil
}

// startGRPCHealth serves grpc.health.v1 on port, mirroring the database ping.
// An empty port disables it.
func startGRPCHealth(ctx context.Context, port string, hh *api.HealthHandler) (*grpc.Server, error) {
	if port == "" {
		return nil, nil
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", port, err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go hh.WatchGRPC(ctx, hs, healthWatchInterval)

	go func() {
		slog.Info("gRPC health listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return srv, nil
}
