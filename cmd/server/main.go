// Smart Financial Solutions orchestration server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/smartfin/internal/agent"
	"github.com/ashureev/smartfin/internal/api"
	"github.com/ashureev/smartfin/internal/config"
	"github.com/ashureev/smartfin/internal/dataset"
	"github.com/ashureev/smartfin/internal/dispatch"
	"github.com/ashureev/smartfin/internal/domain"
	"github.com/ashureev/smartfin/internal/eviction"
	"github.com/ashureev/smartfin/internal/identity"
	"github.com/ashureev/smartfin/internal/llm"
	"github.com/ashureev/smartfin/internal/middleware"
	"github.com/ashureev/smartfin/internal/ocr"
	"github.com/ashureev/smartfin/internal/progress"
	"github.com/ashureev/smartfin/internal/report"
	"github.com/ashureev/smartfin/internal/session"
	"github.com/ashureev/smartfin/internal/store"
	"github.com/ashureev/smartfin/internal/validation"
	"github.com/ashureev/smartfin/internal/vectorstore"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
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
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	vectors, err := newVectorStore(ctx, cfg.VectorStore)
	if err != nil {
		slog.Error("Failed to initialize vector store", "error", err)
		os.Exit(1)
	}

	var extractor ocr.Extractor
	if cfg.OCRAddr != "" {
		ocrCfg := ocr.DefaultConfig(cfg.OCRAddr)
		ocrCfg.MaxImageBytes = cfg.MaxImageBytes
		ocrClient, err := ocr.NewClient(ocrCfg, logger)
		if err != nil {
			slog.Warn("Failed to connect to OCR service, image uploads will be disabled", "error", err)
		} else {
			defer ocrClient.Close()
			extractor = ocrClient
		}
	} else {
		slog.Info("OCR disabled (OCR_ADDR not set)")
	}

	mailer := report.NewSMTPMailer(report.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		From:     cfg.SMTP.Sender,
		Password: cfg.SMTP.Password,
	})
	if !mailer.Enabled() {
		slog.Info("Report mailer disabled (SENDER_EMAIL or SENDER_PASSWORD not set)")
	}

	// Initialize services.
	hub := progress.NewHub()
	datasets := dataset.NewStore()
	endpoints := llm.Endpoints{
		GroqBaseURL:   cfg.Providers.GroqBaseURL,
		GoogleBaseURL: cfg.Providers.GoogleBaseURL,
	}

	factory := agent.NewFactory(agent.Deps{
		Datasets: datasets,
		Charts:   repo,
		Vectors:  vectors,
		Renderer: report.NewRenderer("Smart Financial Solutions"),
		Mailer:   mailer,
		Notifier: hub,
		NewClient: func(p domain.Provider, key string) (llm.Client, error) {
			return llm.NewClient(p, key, endpoints)
		},
		CallTimeout: cfg.LLMCallTimeout,
	})
	sessions := session.NewStore(factory, cfg.DefaultCredentials())
	pipeline := validation.New(sessions, cfg.CorrectionTimeout, validation.WithConversationLog(conversationLogger))

	facade := dispatch.New(dispatch.Config{
		Sessions:        sessions,
		Validator:       pipeline,
		Datasets:        datasets,
		Parser:          dataset.NewParser(cfg.MaxUploadBytes),
		Graphs:          repo,
		OCR:             extractor,
		Notifier:        hub,
		ConversationLog: conversationLogger,
		MaxImageBytes:   cfg.MaxImageBytes,
	})

	// Start schedulers.
	schedulers := []*eviction.Scheduler{
		eviction.New("agents", eviction.Idle("agents", sessions), cfg.Agents.Interval, cfg.Agents.TTL),
		eviction.New("datasets", eviction.Idle("datasets", datasets), cfg.Datasets.Interval, cfg.Datasets.TTL),
		eviction.New("graphs", eviction.Retention(repo), time.Hour, cfg.GraphRetention),
	}
	for _, s := range schedulers {
		s.Start(ctx)
	}
	slog.Info("Eviction schedulers started",
		"agent_ttl", cfg.Agents.TTL,
		"dataset_ttl", cfg.Datasets.TTL,
		"graph_retention", cfg.GraphRetention)

	// Initialize handlers.
	limiter := api.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()
	agentHandler := api.NewHandler(facade, limiter, cfg.MaxUploadBytes, cfg.MaxImageBytes)
	healthHandler := api.NewHealthHandler(repo, 5*time.Second)
	wsHandler := progress.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.Origins(cfg.FrontendURL)))
	r.Use(identity.Middleware)

	healthHandler.RegisterHealth(r)
	agentHandler.RegisterRoutes(r)
	r.Get("/websocket/{session_id}", wsHandler.ServeHTTP)

	// WriteTimeout stays 0: prompts can run several model and tool rounds,
	// and WebSocket connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	for _, s := range schedulers {
		s.Stop()
	}

	slog.Info("Server stopped successfully")
}

// newVectorStore returns a Qdrant-backed store when QDRANT_URL is set and an
// in-memory one otherwise.
func newVectorStore(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Store, error) {
	var embedder vectorstore.Embedder = vectorstore.NewHashEmbedder(vectorstore.DefaultHashDimensions)
	if cfg.EmbeddingAPIKey != "" {
		embedder = vectorstore.NewOpenAIEmbedder(cfg.EmbeddingAPIKey, cfg.EmbeddingBaseURL, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	}

	if cfg.QdrantURL == "" {
		slog.Info("Using in-memory vector store (QDRANT_URL not set)")
		return vectorstore.NewMemory(embedder), nil
	}

	var opts []vectorstore.QdrantOption
	if cfg.QdrantAPIKey != "" {
		opts = append(opts, vectorstore.WithAPIKey(cfg.QdrantAPIKey))
	}
	q := vectorstore.NewQdrant(cfg.QdrantURL, embedder, opts...)
	if err := q.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	slog.Info("Connected to Qdrant", "url", cfg.QdrantURL, "collection", vectorstore.Collection)
	return q, nil
}
