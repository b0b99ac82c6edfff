package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "go.uber.org/automaxprocs"

	"weltverbinder/internal/board"
	"weltverbinder/internal/generation"
	"weltverbinder/internal/http/handlers"
	httpapi "weltverbinder/internal/http/httpapi"
	"weltverbinder/internal/infra"
	"weltverbinder/internal/providers/claude"
	"weltverbinder/internal/providers/prompt"
	"weltverbinder/internal/providers/replicate"
	"weltverbinder/internal/report"
	"weltverbinder/internal/session"
	"weltverbinder/internal/store"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)
	metrics := infra.NewMetrics()

	ctx := context.Background()
	st, closeStore, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("failed to open store")
	}
	defer closeStore()
	if cfg.StoreDriver == infra.StoreDriverMemory {
		logger.Warn().Msg("memory store in use, state is lost on restart")
	}

	claudeClient := claude.NewClient(claude.Options{
		APIKey:  cfg.ClaudeAPIKey,
		BaseURL: cfg.ClaudeBaseURL,
		Model:   cfg.ClaudeModel,
		Logger:  &logger,
	})
	replicateClient := replicate.NewClient(replicate.Options{
		APIKey:  cfg.ReplicateAPIKey,
		BaseURL: cfg.ReplicateBaseURL,
		Logger:  &logger,
	})

	orchestrator := generation.NewOrchestrator(generation.Options{
		Safety: prompt.NewClaudeSafety(prompt.ClaudeSafetyOptions{
			Client: claudeClient,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("safety answer not recognized")
			},
		}),
		Enhancer: prompt.NewClaudeEnhancer(prompt.ClaudeEnhancerOptions{
			Client: claudeClient,
			OnFallback: func(reason string, err error) {
				metrics.EnhanceFallbacks.WithLabelValues(reason).Inc()
				logger.Warn().Err(err).Str("reason", reason).Msg("prompt enhancement fell back")
			},
		}),
		Jobs: replicateClient,
		Credentials: []generation.Credential{
			{Name: "CLAUDE_API_KEY", Present: cfg.ClaudeAPIKey != ""},
			{Name: "REPLICATE_API_KEY", Present: cfg.ReplicateAPIKey != ""},
		},
		CallTimeout: cfg.UpstreamCallTimeout,
		Logger:      &logger,
		Metrics:     metrics,
	})
	relay := generation.NewRelay(generation.RelayOptions{
		Fetcher:      replicateClient,
		AllowedHosts: cfg.ReplicatePollHosts,
		CallTimeout:  cfg.UpstreamCallTimeout,
		Logger:       &logger,
		Metrics:      metrics,
	})

	syncer := session.NewSyncer(session.Options{
		Store:    st,
		Debounce: cfg.SessionDebounce,
		Logger:   &logger,
		Metrics:  metrics,
	})

	app := &handlers.App{
		Generator:   orchestrator,
		Poller:      relay,
		Sessions:    syncer,
		Boards:      board.NewService(board.Options{Store: st, Logger: &logger}),
		Reports:     report.NewBuilder(st, &logger),
		Logger:      &logger,
		StoreDriver: cfg.StoreDriver,
	}

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Metrics:         metrics,
		RateLimitPerMin: cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Str("addr", server.Addr()).Str("store", cfg.StoreDriver).Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	// Pending debounced session writes go out before the store closes.
	syncer.Close(shutdownCtx)
	logger.Info().Msg("server stopped")
}
