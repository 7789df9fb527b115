package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/ember/internal/engine"
	"github.com/lazypower/ember/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	startBackground(ctx, a.engine)

	addr := cfg.ListenAddr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.New(a.engine, VersionString()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ember serving", "addr", addr, "db", a.db.Path, "model", a.index.Model())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// startBackground seeds heat for legacy records and starts the decay
// worker when enabled. Both long-running surfaces (serve, mcp) use it.
func startBackground(ctx context.Context, e *engine.Engine) {
	report, err := e.Backfill(ctx)
	switch {
	case err != nil:
		slog.Warn("backfill", "error", err)
	case report.Filled > 0:
		slog.Info("backfilled legacy memories", "filled", report.Filled)
	}

	if cfg.Decay.Enabled {
		e.StartDecay(ctx)
	}
}
