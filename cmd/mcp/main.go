// Command mcp serves the paygate MCP tools over stdio. Logs go to stderr;
// stdout belongs to the protocol.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/paygate/internal/logging"
	"github.com/mbd888/paygate/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	apiURL := os.Getenv("PAYGATE_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}

	s := mcpserver.NewMCPServer(mcpserver.Config{
		APIURL: apiURL,
		APIKey: os.Getenv("PAYGATE_API_KEY"),
	})
	logger.Info("serving MCP tools over stdio", "api_url", apiURL)

	if err := server.ServeStdio(s, server.WithErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
