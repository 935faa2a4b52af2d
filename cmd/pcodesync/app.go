package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/hdx"
	"github.com/JonMunkholm/pcodesync/internal/history"
	"github.com/JonMunkholm/pcodesync/internal/kobo"
	"github.com/JonMunkholm/pcodesync/internal/logging"
	"github.com/JonMunkholm/pcodesync/internal/pipeline"
	"github.com/JonMunkholm/pcodesync/internal/publish"
	"github.com/JonMunkholm/pcodesync/internal/registry"
)

type appOptions struct {
	skipDownload bool
}

// app is the wired runtime shared by every command.
type app struct {
	cfg    *config.Config
	runner *pipeline.Runner
	closer func()
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"targets", len(cfg.Targets),
		"settle_mode", cfg.Publish.SettleMode,
		"output_dir", cfg.Output.Dir,
		"history", historyBackend(cfg),
	)
	slog.Debug("configuration", "config", cfg.String())

	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}

	deps := pipeline.Deps{
		Resolver: registry.New(cfg.Registry, httpClient),
		Platforms: func(target config.Target) publish.Platform {
			return kobo.NewClient(target, httpClient)
		},
	}
	if !opts.skipDownload {
		deps.Fetcher = hdx.NewClient(cfg.Dataset, httpClient)
	}

	a := &app{cfg: cfg, closer: func() {}}
	if cfg.Database.UseDatabase() {
		store, err := history.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		slog.Info("connected to database", "name", databaseName(cfg.Database.URL))
		deps.Store = store
		a.closer = store.Close
	}

	a.runner = pipeline.NewRunner(cfg, deps)
	return a, nil
}

// Close waits for background runs and releases the history store.
func (a *app) Close() {
	a.runner.Wait()
	a.closer()
}

func historyBackend(cfg *config.Config) string {
	if cfg.Database.UseDatabase() {
		return "postgres"
	}
	return "memory"
}

func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
