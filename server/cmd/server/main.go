package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caffeinestack/caffeinestack/server/internal/alerts"
	"github.com/caffeinestack/caffeinestack/server/internal/api"
	"github.com/caffeinestack/caffeinestack/server/internal/auth"
	"github.com/caffeinestack/caffeinestack/server/internal/config"
	"github.com/caffeinestack/caffeinestack/server/internal/metrics"
	"github.com/caffeinestack/caffeinestack/server/internal/store"
	"github.com/caffeinestack/caffeinestack/server/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "dotenv file with secrets; ignored when missing")
	flag.Parse()

	var logLevel slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))
	slog.SetDefault(logger)

	slog.Info("caffeinestack-server starting", "config", *configPath)

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "path", *envFile, "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "config", *configPath)
		cfg, err = config.Default(), nil
	}
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logLevel.Set(cfg.Log.SlogLevel())

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"storage_driver", cfg.Server.Storage.Driver,
		"retention", cfg.Server.Storage.Retention,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Server.Storage)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	st, err := store.New(db, cfg.Server.Storage.Retention)
	if err != nil {
		slog.Error("failed to migrate store", "err", err)
		os.Exit(1)
	}
	defer st.Close()
	go st.Run(ctx)

	alertEngine := alerts.New(cfg.Server.Alerts)
	registry := metrics.New()
	levels := api.NewLevels(st, cfg.Server.Level.HistoryWindow, alertEngine, registry)
	go levels.Run(ctx, cfg.Server.Alerts.Interval, time.Now)

	// Only the log level and alert rules are hot-reloadable; everything else
	// needs a restart.
	if _, err := os.Stat(*configPath); err == nil {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				logLevel.Set(next.Log.SlogLevel())
				alertEngine.SetConfig(next.Server.Alerts)
				slog.Info("config applied",
					"log_level", next.Log.Level,
					"alert_rules", len(next.Server.Alerts.Rules),
				)
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	hub := stream.New(levels, cfg.Server.Stream.Interval)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/", api.New(api.Options{
		Store:   st,
		Levels:  levels,
		Alerts:  alertEngine,
		Metrics: registry,
		Auth:    cfg.Server.Auth,
	}))
	httpMux.Handle("/ws/level", hub)

	authCfg := cfg.Server.Auth
	if authCfg.Mode == "jwt" && authCfg.JWTSecret() == "" {
		slog.Error("jwt auth mode needs a secret", "env", authCfg.JWTSecretEnv)
		os.Exit(1)
	}
	handler := auth.Middleware(auth.Options{
		Mode:      authCfg.Mode,
		Header:    authCfg.EffectiveHeader(),
		Key:       authCfg.Key(),
		JWTSecret: authCfg.JWTSecret(),
		Public:    api.IsPublic,
	}, httpMux)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("caffeinestack-server shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
