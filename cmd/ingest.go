package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/app"
	"github.com/korpusai/korpus/internal/config"
	"github.com/korpusai/korpus/internal/ingest"
	"github.com/korpusai/korpus/internal/store"
)

var ingestScope scopeFlags

var ingestCmd = &cobra.Command{
	Use:   "ingest <file> [file...]",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest reads each file, extracts its text, chunks and embeds it, and
stores the result for retrieval.

Supported formats: .txt, .md, .markdown, and .pdf (PDF needs MISTRAL_API_KEY).
Scope flags decide visibility: --chat attaches to one conversation, --pool to
a shared collection, neither means owner-global.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestScope.register(ingestCmd)
	_ = ingestCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sc, err := ingestScope.parse()
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

	for _, path := range args {
		if err := ingestFile(ctx, a, sc, path); err != nil {
			return fmt.Errorf("ingesting %s: %w", path, err)
		}
	}
	return nil
}

// ingestFile runs one file through extract, create, chunk, and embed. The
// document row exists before extraction so failures surface as status
// "error" instead of vanishing.
func ingestFile(ctx context.Context, a *app.App, sc store.Scope, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	filename := filepath.Base(path)
	doc, err := a.Store.CreateDocument(ctx, store.NewDocument{
		OwnerID:     sc.OwnerID,
		ChatID:      sc.ChatID,
		PoolID:      sc.PoolID,
		Filename:    filename,
		ContentType: mime.TypeByExtension(filepath.Ext(filename)),
	})
	if err != nil {
		return fmt.Errorf("creating document: %w", err)
	}

	text, err := a.Extractor.Extract(ctx, filename, data)
	if err != nil {
		if markErr := a.Store.MarkError(ctx, doc.ID, ingest.TruncateError(err)); markErr != nil {
			a.Logger.Warn("recording extraction failure", "document_id", doc.ID, "error", markErr)
		}
		return fmt.Errorf("extracting text: %w", err)
	}

	chunks, tokens, err := a.Processor.ProcessDocument(ctx, doc.ID, text)
	if err != nil {
		return fmt.Errorf("processing document: %w", err)
	}
	if chunks == 0 {
		fmt.Printf("%s: no text extracted, marked as error (id %s)\n", filename, doc.ID)
		return nil
	}

	fmt.Printf("%s: %d chunks, %d tokens (id %s)\n", filename, chunks, tokens, doc.ID)
	return nil
}
