package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/luo-one/mailkeeper/internal/api"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the periodic scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), app)
		},
	}
}

func serve(ctx context.Context, app *App) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := app.Logger.With("component", "server")
	cfg := app.Config

	if cfg.LogRetention > 0 {
		if n, err := app.Logs.CleanupOldLogs(ctx, cfg.LogRetention); err != nil {
			log.Warn("failed to prune activity log", "error", err)
		} else if n > 0 {
			log.Info("pruned activity log", "removed", n)
		}
	}

	if !isDebug(cfg.LogLevel) {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.SetupRouter(cfg, api.Dependencies{
		Auth:      app.Auth,
		Scheduler: app.Scheduler,
		Recorder:  app.Recorder,
		Emails:    app.Emails,
		Filters:   app.Filters,
		Logs:      app.Logs,
		Logger:    app.Logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.Scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening",
			"addr", srv.Addr,
			"data_dir", cfg.DataDir,
			"attachments_dir", app.Blobs.Root(),
			"database", cfg.DatabasePath,
			"api_key_file", app.Auth.APIKeyManager.KeyFilePath(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			app.Scheduler.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
	}

	// Waits for a scheduled run in flight
	app.Scheduler.Stop()
	log.Info("stopped")
	return nil
}

func isDebug(level string) bool {
	return strings.EqualFold(level, "debug")
}
