package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"evalgo.org/unifiedviews/internal/api"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the web UI and API server",
	Long: `Start the HTTP server with the web UI, the REST API under /api/v1,
Prometheus metrics and the live event stream. The scheduler and the DPU
library watcher run alongside it when enabled in the configuration.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := newLogger("unifiedviews")

	a, err := openApp(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	server := api.New(a)

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil

	case err := <-errChan:
		if err != nil {
			_ = a.Close()
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}
