// Command expression-mcp serves the recording catalog over MCP on stdio.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/expressionlab/expression/internal/config"
	"github.com/expressionlab/expression/internal/db"
	"github.com/expressionlab/expression/internal/mcpserver"
)

func main() {
	// stdout carries the protocol.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	cwd, err := os.Getwd()
	if err != nil {
		fatal(err)
	}
	cfg, err := config.Load(config.Discover(cwd))
	if err != nil {
		fatal(err)
	}

	path := db.DefaultDBPath(cfg.OutputRootDirectory)
	store, err := db.OpenReadOnly(path)
	if err != nil {
		fatal(fmt.Errorf("catalog %s: %w", path, err))
	}
	defer store.Close()

	slog.Info("mcp: serving catalog", "path", path)
	if err := server.ServeStdio(mcpserver.New(store)); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
