package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/app"
	"github.com/korpusai/korpus/internal/config"
	"github.com/korpusai/korpus/internal/grounding"
	"github.com/korpusai/korpus/internal/retrieve"
	"github.com/korpusai/korpus/internal/store"
)

var searchScope scopeFlags

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Retrieve grounded context for a query",
	Long: `Search runs hybrid retrieval (vector + full-text, fused by reciprocal
rank fusion) over the scoped documents and prints the grounding context an
LLM prompt would receive.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchScope.register(searchCmd)
	_ = searchCmd.MarkFlagRequired("owner")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	sc, err := searchScope.parse()
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

	ready, err := a.Store.HasReadyDocuments(ctx, sc)
	if err != nil {
		return fmt.Errorf("checking for documents: %w", err)
	}
	if !ready {
		fmt.Println("No ready documents in this scope.")
		return nil
	}

	query := strings.Join(args, " ")
	intent := retrieve.DetectIntent(query)

	candidates, err := a.Retriever.Retrieve(ctx, sc, query, intent)
	if err != nil {
		return fmt.Errorf("retrieving: %w", err)
	}
	if len(candidates) == 0 {
		fmt.Println("No relevant documents found.")
		return nil
	}

	results := a.Reranker.Rerank(ctx, query, candidates)
	fmt.Println(grounding.BuildTextContext(results))

	if retrieve.ShouldUseImageRetrieval(query, cfg.ImageMode) {
		if imageCtx := searchImages(ctx, a, sc, query, cfg.RAGTopK); imageCtx != "" {
			fmt.Println()
			fmt.Println(imageCtx)
		}
	}

	return nil
}

// searchImages looks up visual assets matching the query. Image retrieval is
// supplementary, failures degrade to text-only output.
func searchImages(ctx context.Context, a *app.App, sc store.Scope, query string, topK int) string {
	vecs, err := a.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		a.Logger.Warn("embedding query for image search", "error", err)
		return ""
	}

	assets, err := a.Store.ImageSearch(ctx, sc, vecs[0], topK)
	if err != nil {
		a.Logger.Warn("image search", "error", err)
		return ""
	}
	return grounding.BuildImageContext(assets)
}
