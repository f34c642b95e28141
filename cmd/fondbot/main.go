package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shouya/fondbot/internal/api"
	"github.com/shouya/fondbot/internal/chat"
	"github.com/shouya/fondbot/internal/clock"
	"github.com/shouya/fondbot/internal/config"
	"github.com/shouya/fondbot/internal/dispatch"
	"github.com/shouya/fondbot/internal/gateway"
	"github.com/shouya/fondbot/internal/guard"
	"github.com/shouya/fondbot/internal/names"
	"github.com/shouya/fondbot/internal/store"
	"github.com/shouya/fondbot/internal/telegram"
	"github.com/shouya/fondbot/pkg/plugin"

	// Plugins register themselves in init.
	_ "github.com/shouya/fondbot/internal/plugins/afk"
	_ "github.com/shouya/fondbot/internal/plugins/manager"
	_ "github.com/shouya/fondbot/internal/plugins/reminder"
	_ "github.com/shouya/fondbot/internal/plugins/tracker"
)

func main() {
	// Load environment variables before the logger so DEBUG can come from .env
	envErr := godotenv.Load()

	env, err := config.EnvFrom(os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	var logger *zap.Logger
	if env.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	if err := run(env, logger); err != nil {
		logger.Fatal("fondbot exited with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func run(env config.Env, logger *zap.Logger) error {
	cfg, err := config.NewLoader(env.ConfigDir, logger).Load()
	if err != nil {
		return err
	}
	if env.APIPort != 0 {
		cfg.API.Port = env.APIPort
	}

	logger.Info("Starting fondbot",
		zap.String("platform", env.Platform),
		zap.String("db", env.DBPath),
		zap.Int("api_port", cfg.API.Port))

	st, err := store.OpenSQLite(env.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	g, err := guard.New(st, env.SafeChats, logger)
	if err != nil {
		return err
	}
	nm, err := names.New(st, env.NameMap, logger)
	if err != nil {
		return err
	}

	client, source, shouldRetry := platform(env, cfg, logger)
	client = chat.WithRetry(client, chat.RetryConfig{
		MaxAttempts: cfg.Sender.MaxAttempts,
		Backoff:     cfg.Sender.Backoff,
		ShouldRetry: shouldRetry,
	}, logger)

	pctx := plugin.NewContext(client, st, g, nm, logger, clock.NewRealClock(), cfg)
	plugins, err := plugin.CreateAll(pctx)
	if err != nil {
		return fmt.Errorf("failed to create plugins: %w", err)
	}

	d := dispatch.New(pctx, cfg.Dispatch.DenialText, logger)
	for _, p := range plugins {
		if err := d.Register(p); err != nil {
			return err
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		// The loop ending for any reason stops the API server too.
		defer stop()
		return d.Run(ctx, source)
	})
	if cfg.API.Port > 0 {
		server := api.NewServer(d, g, logger, cfg.API.Port)
		eg.Go(func() error { return server.Run(ctx) })
	}

	logger.Info("Application running. Press Ctrl+C to exit.")
	return eg.Wait()
}

// platform builds the chat client and event source selected by PLATFORM.
func platform(env config.Env, cfg *config.Config, logger *zap.Logger) (chat.Client, chat.Source, func(error) bool) {
	if env.Platform == "gateway" {
		gw := gateway.NewClient(gateway.Config{URL: env.GatewayURL, Token: env.GatewayToken}, logger)
		return gw, gw, nil
	}
	tg := telegram.New(telegram.Config{
		Token:         env.TelegramToken,
		RatePerSecond: cfg.Sender.RatePerSecond,
	}, logger)
	return tg, tg, telegram.IsRetryable
}
