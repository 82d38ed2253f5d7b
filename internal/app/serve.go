package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"stream-auditor/internal/common/logging"
	"stream-auditor/internal/handlers"
	"stream-auditor/internal/server"
)

const shutdownTimeout = 30 * time.Second

// NewHandler builds the HTTP surface of app.
func NewHandler(app *App) *mux.Router {
	opts := []handlers.Option{
		handlers.WithDefaults(app.Defaults()),
		handlers.WithVersion(Version),
		handlers.WithLogger(app.Logger),
	}
	if app.RedisClient != nil {
		opts = append(opts, handlers.WithHealthCheck("redis", app.RedisClient))
	}

	router := mux.NewRouter()
	SetupRoutes(router,
		handlers.New(app.Orchestrator, opts...),
		promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}),
		app.Logger,
	)
	return router
}

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analyze API, health and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.cfg.RequireCredentials(); err != nil {
				return err
			}

			app, err := New(c.cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			srv := server.New(NewHandler(app), c.cfg.Port)
			errCh := srv.Start()
			app.Logger.Info("Server starting", logging.String("addr", srv.Addr()))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			app.Logger.Info("Shutting down server...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			app.Logger.Info("Server exited")
			return nil
		},
	}
}
