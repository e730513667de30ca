package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/raks07/jarvis-data-injestion/internal/chunker"
	"github.com/raks07/jarvis-data-injestion/internal/config"
	dbRedis "github.com/raks07/jarvis-data-injestion/internal/db/redis"
	"github.com/raks07/jarvis-data-injestion/internal/domain"
	"github.com/raks07/jarvis-data-injestion/internal/index"
	logpkg "github.com/raks07/jarvis-data-injestion/internal/logger"
	"github.com/raks07/jarvis-data-injestion/internal/metrics"
	budgetrepo "github.com/raks07/jarvis-data-injestion/internal/repository/budget"
	corpusrepo "github.com/raks07/jarvis-data-injestion/internal/repository/corpus"
	"github.com/raks07/jarvis-data-injestion/internal/repository/embcache"
	historyrepo "github.com/raks07/jarvis-data-injestion/internal/repository/history"
	selectionrepo "github.com/raks07/jarvis-data-injestion/internal/repository/selection"
	chiTransport "github.com/raks07/jarvis-data-injestion/internal/transport/chi"
	openaiTransport "github.com/raks07/jarvis-data-injestion/internal/transport/openai"
	"github.com/raks07/jarvis-data-injestion/internal/usecase/embedding"
	healthuc "github.com/raks07/jarvis-data-injestion/internal/usecase/health"
	ingestionuc "github.com/raks07/jarvis-data-injestion/internal/usecase/ingestion"
	qauc "github.com/raks07/jarvis-data-injestion/internal/usecase/qa"
	retrievaluc "github.com/raks07/jarvis-data-injestion/internal/usecase/retrieval"
	selectionuc "github.com/raks07/jarvis-data-injestion/internal/usecase/selection"
	"github.com/raks07/jarvis-data-injestion/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting jarvis API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	// Both drivers ride the same rueidis client; valkey speaks RESP.
	switch cfg.Database.Driver {
	case "valkey", "redis":
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create database store", zap.Error(err))
	}
	defer store.Close()

	// Wait for database to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Database not ready", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterPipelineMetrics()

	// Take the first vectorizer config
	var vecCfg config.VectorizerConfig
	var provName string
	for _, vc := range cfg.Embedding.Vectorizers {
		vecCfg = vc
		provName = vc.Provider
		break
	}
	provCfg := cfg.Embedding.Providers[provName]

	// Single BudgetTracker shared across both embedder chains.
	var budget *embedding.BudgetTracker
	budgetCfg := provCfg.Budget
	if budgetCfg.DailyTokenLimit > 0 || budgetCfg.MonthlyTokenLimit > 0 {
		action := embedding.BudgetActionWarn
		if budgetCfg.Action == "reject" {
			action = embedding.BudgetActionReject
		}
		budget = embedding.NewBudgetTracker(
			provName, budgetCfg.DailyTokenLimit, budgetCfg.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store, loads current counters from DB.
		budgetStore := budgetrepo.New(store, 48*time.Hour, 62*24*time.Hour)
		budget.WithStore(ctx, budgetStore)
	}

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	// Go gotcha: (*BudgetTracker)(nil) wrapped in BudgetChecker != nil.
	var budgetChecker embedding.BudgetChecker
	if budget != nil {
		budgetChecker = budget
	}

	// Base provider, shared by both chains so the concurrency cap and the
	// coalescing window cover all embedding traffic.
	base := openaiTransport.NewEmbedder(&openaiTransport.EmbedderConfig{
		APIKey:        provCfg.APIKey,
		BaseURL:       provCfg.BaseURL,
		Model:         vecCfg.Model,
		Dimensions:    vecCfg.Dimensions,
		MaxInputChars: vecCfg.MaxInputChars,
		Provider:      provName,
		Logger:        logger,
	})
	limited := embedding.NewLimiter(base, cfg.Embedding.MaxInFlight)

	var shared batchingEmbedder = limited
	var coalescer *embedding.Coalescer
	if cfg.Embedding.CoalesceMS > 0 {
		coalescer = embedding.NewCoalescer(
			limited, time.Duration(cfg.Embedding.CoalesceMS)*time.Millisecond, 0, logger,
		)
		shared = coalescer
	}

	cached := embcache.New(shared, store, vecCfg.Model, metrics.EmbeddingCacheTotal, logger)
	instrumented := embedding.NewInstrumentedEmbedder(cached, provName, vecCfg.Model, budgetChecker, logger)

	docEmbedder := withInstruction(instrumented, vecCfg.DocumentInstruction)
	queryEmbedder := withInstruction(instrumented, vecCfg.QueryInstruction)
	logger.Info("Embedders created",
		zap.String("provider", provName),
		zap.String("model", vecCfg.Model),
		zap.Int("dimensions", vecCfg.Dimensions),
	)

	// Chat-completion client for answer generation.
	completion := openaiTransport.NewCompletionClient(&openaiTransport.CompletionConfig{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxAttempts: cfg.LLM.MaxRetries,
		Logger:      logger,
	})
	generator := newLimitedGenerator(completion, cfg.LLM.MaxInFlight)

	// Repositories and the in-process vector index.
	corpus := corpusrepo.New(store)
	selections := selectionrepo.New(store)
	histories := historyrepo.New(store)

	idx := index.New()
	if err := idx.Rebuild(ctx, corpus); err != nil {
		logger.Fatal("Failed to load vector index", zap.Error(err))
	}
	logger.Info("Vector index loaded", zap.Int("vectors", idx.Count(vecCfg.Model)))

	// Use case services
	ingestionSvc := ingestionuc.New(corpus, docEmbedder, idx, chunker.Config{
		MaxChunkSize: cfg.Chunking.MaxChunkSize,
		Overlap:      cfg.Chunking.Overlap,
	}, logger)
	retriever := retrievaluc.New(queryEmbedder, idx, corpus, retrievaluc.Config{
		TopK:         cfg.Retrieval.TopK,
		MinScore:     cfg.Retrieval.MinScore,
		RerankDepth:  cfg.Retrieval.RerankDepth,
		RerankWeight: cfg.Retrieval.RerankWeight,
	}, logger)
	selectionSvc := selectionuc.New(selections, corpus, logger)
	qaSvc := qauc.New(retriever, generator, selectionSvc, qauc.Config{
		ContextBudget:  cfg.Retrieval.ContextBudget,
		EmptyIsFailure: cfg.Retrieval.EmptyIsFailure,
	}, logger).WithHistory(histories)

	// Health service
	healthSvc := healthuc.New(store, base, completion)

	// HTTP server
	server := chiTransport.NewServer(ingestionSvc, qaSvc, selectionSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if coalescer != nil {
		coalescer.Close()
	}

	logger.Info("Server stopped gracefully")
}

// batchingEmbedder is what the pipeline needs from an embedder chain.
type batchingEmbedder interface {
	domain.Embedder
	domain.BatchEmbedder
}

func withInstruction(inner batchingEmbedder, instruction string) batchingEmbedder {
	if instruction == "" {
		return inner
	}
	// Outermost so the cache key includes the instruction.
	return domain.NewInstructionEmbedder(inner, instruction)
}

// limitedGenerator bounds concurrent LLM calls with a semaphore.
type limitedGenerator struct {
	inner *openaiTransport.CompletionClient
	sem   chan struct{}
}

func newLimitedGenerator(inner *openaiTransport.CompletionClient, maxInFlight int) *limitedGenerator {
	var sem chan struct{}
	if maxInFlight > 0 {
		sem = make(chan struct{}, maxInFlight)
	}
	return &limitedGenerator{inner: inner, sem: sem}
}

func (g *limitedGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	if g.sem != nil {
		select {
		case g.sem <- struct{}{}:
			defer func() { <-g.sem }()
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	text, _, err := g.inner.Generate(ctx, system, prompt)
	return text, err
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line, one per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
