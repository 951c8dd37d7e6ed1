// Command server runs the paygate payment gateway.
package main

import (
	"context"
	"os"

	"github.com/mbd888/paygate/internal/config"
	"github.com/mbd888/paygate/internal/logging"
	"github.com/mbd888/paygate/internal/server"
)

// Set by -ldflags at build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	boot := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		boot.Error("failed to load config", "error", err)
		return 1
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat).With("version", Version)
	logger.Info("starting paygate",
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"merchant", cfg.MerchantCode,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		return 1
	}
	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server exited", "error", err)
		return 1
	}
	return 0
}
