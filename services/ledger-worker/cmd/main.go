package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimeshabuddhika/ledger-command-processor/pkg"
	"github.com/nimeshabuddhika/ledger-command-processor/services/ledger-worker/app"
	"go.uber.org/zap"
)

// main initializes and runs the ledger worker.
func main() {
	pkg.InitLogger()
	logger := pkg.Logger
	defer logger.Sync()

	// Cancelling ctx stops the read loop; in-flight commands still finish
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker, cleanup, err := app.NewApp(ctx, logger)
	if err != nil {
		logger.Fatal("failed_to_initialize_worker", zap.Error(err))
	}

	closeConsumer := worker.Commands.Start()

	go func() {
		logger.Info("ops_server_listening", zap.String("addr", worker.OpsServer.Addr))
		if err := worker.OpsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("ops_server_failed", zap.Error(err))
		}
	}()

	// Handle graceful shutdown on SIGINT or SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	osSignal := <-sigChan
	logger.Info("received_shutdown_signal", zap.String("signal", osSignal.String()))

	cancel()
	closeConsumer()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := worker.OpsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops_server_shutdown_failed", zap.Error(err))
	}
	cleanup()
	logger.Info("worker_shutdown_completed")
}
