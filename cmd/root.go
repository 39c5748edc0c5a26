// Package cmd contains the korpus CLI commands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/app"
	"github.com/korpusai/korpus/internal/log"
)

// Version information (injected at build time via ldflags).
var (
	Version   = "development"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "korpus",
	Short: "korpus - document retrieval for LLM chat backends",
	Long: `korpus ingests documents into PostgreSQL and retrieves grounded context
for LLM conversations.

Documents are chunked along their markdown structure, embedded, and stored
with pgvector. Retrieval fuses vector and full-text search and can rerank
the fused results with a cross-encoder.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	logger := initLogger()
	slog.SetDefault(logger)
	return rootCmd.Execute()
}

// initLogger builds the process logger. DEBUG lowers the level; logs go to
// stderr so command output on stdout stays machine-readable.
func initLogger() *slog.Logger {
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	return log.New(cfg)
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		slog.Warn("shutdown error", "error", err)
	}
}
