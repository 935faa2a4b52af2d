package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/pcodesync/internal/web"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the status page and run API, syncing on SYNC_INTERVAL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer blocks until ctx is cancelled by SIGINT/SIGTERM, then stops the
// scheduler, drains the HTTP server, and waits for an in-flight run.
func runServer(ctx context.Context) error {
	a, err := newApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	// Background jobs stop with ctx; the active run is awaited below.
	defer a.closer()

	if err := a.cfg.RequireTargets(); err != nil {
		return err
	}

	server := web.NewServer(ctx, a.cfg, a.runner)
	go a.runner.StartScheduler(ctx, a.cfg.Schedule)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(a.cfg.Server.Addr())
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	if a.runner.Running() {
		slog.Info("waiting for the active run to stop", "timeout", a.cfg.Server.ShutdownTimeout)
		waitRun(shutdownCtx, a)
	}
	slog.Info("server stopped")
	return nil
}

func waitRun(ctx context.Context, a *app) {
	done := make(chan struct{})
	go func() {
		a.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("active run did not stop in time")
	}
}
