package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and configuration information",
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Printf("korpus %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n", GitCommit)

	// Version must work even with a broken config file.
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("\nConfiguration: unavailable (%v)\n", err)
		return nil
	}

	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Embedding: %s/%s (%d dimensions)\n",
		cfg.EmbeddingProvider, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
	fmt.Printf("  Chunking: %d tokens, %d overlap\n", cfg.ChunkSize, cfg.ChunkOverlap)
	fmt.Printf("  Retrieval: top %d, threshold %.2f, image mode %s\n",
		cfg.RAGTopK, cfg.RAGSimilarityThreshold, cfg.ImageMode)
	fmt.Printf("  Rerank: enabled=%t model=%s\n", cfg.Rerank.Enabled, cfg.Rerank.Model)
	fmt.Printf("  Database: %s@%s:%d/%s\n",
		cfg.PostgresUser, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)

	if cfg.EmbeddingAPIKey() != "" {
		fmt.Printf("  Embedding API key: configured\n")
	} else {
		fmt.Printf("  Embedding API key: not set\n")
	}
	if cfg.MistralAPIKey != "" {
		fmt.Printf("  OCR API key: configured\n")
	} else {
		fmt.Printf("  OCR API key: not set (PDF ingestion disabled)\n")
	}

	return nil
}
