package main

import (
	"context"
	"log"
	"net/http"

	"github.com/deepchat-dev/deepchat/internal/api"
	"github.com/deepchat-dev/deepchat/internal/config"
	"github.com/deepchat-dev/deepchat/internal/db"
	"github.com/deepchat-dev/deepchat/internal/llm"
	"github.com/deepchat-dev/deepchat/internal/tracing"
	"github.com/deepchat-dev/deepchat/internal/web"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	database, err := db.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := multierr.Combine(database.Close(), logger.Sync()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	provider, err := llm.NewOpenAIProvider(cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey, cfg.DeepSeekModel)
	if err != nil {
		logger.Fatal("failed to initialize LLM provider", zap.Error(err))
	}
	if cfg.TracingEnabled() {
		shutdown, err := tracing.Init(context.Background(), cfg)
		if err != nil {
			logger.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("failed to flush traces", zap.Error(err))
			}
		}()

		provider = llm.NewTracingProvider(provider, cfg.TraceProject, cfg.TraceWorkspace)
		logger.Info("completion tracing enabled",
			zap.String("project", cfg.TraceProject),
			zap.String("workspace", cfg.TraceWorkspace))
	}
	chat := llm.NewService(provider, logger)

	views, err := web.New(logger)
	if err != nil {
		logger.Fatal("failed to load templates", zap.Error(err))
	}

	handler := api.NewHandler(database, chat, cfg, logger)

	mux := http.NewServeMux()
	handler.Register(mux)
	mux.HandleFunc("GET /conversations", views.Conversations)
	mux.HandleFunc("/", views.Chat)

	server := api.Chain(mux,
		api.WithCORS,
		api.WithRecovery(logger),
		api.WithRequestLogging(logger),
	)

	logger.Info("starting server", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, server); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
