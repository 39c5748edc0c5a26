package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/app"
	"github.com/korpusai/korpus/internal/config"
)

var rechunkScope scopeFlags

var rechunkCmd = &cobra.Command{
	Use:   "rechunk",
	Short: "Re-chunk and re-embed all documents in a scope",
	Long: `Rechunk rebuilds chunks and embeddings from the stored extracted text.
Run it after changing chunk_size, chunk_overlap, or the embedding model.

Each document is processed in isolation: one failure does not stop the
rest.`,
	RunE: runRechunk,
}

func init() {
	rechunkScope.register(rechunkCmd)
	_ = rechunkCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(rechunkCmd)
}

func runRechunk(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sc, err := rechunkScope.parse()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer closeApp(a)

	result, err := a.Processor.RechunkAll(ctx, sc, func(done, total int) {
		fmt.Printf("\rRe-chunking documents: %d/%d", done, total)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("re-chunking: %w", err)
	}

	fmt.Printf("Done: %d processed, %d failed, %d skipped\n",
		result.Processed, result.Failed, result.Skipped)
	return nil
}
