// Command server runs the ParcelPeer payments API: the wallet ledger,
// payment reconciliation, disputes, and subscription endpoints.
package main

import (
	"context"
	"os"

	"github.com/parcelpeer/payments/internal/config"
	"github.com/parcelpeer/payments/internal/logging"
	"github.com/parcelpeer/payments/internal/server"
)

// Set via -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("starting parcelpeer-payments",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"currency", cfg.Currency,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
