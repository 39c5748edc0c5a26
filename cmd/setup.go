package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var setupForce bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a starter configuration file",
	Long: `Setup writes an annotated config.yaml to ~/.korpus/. Existing files are
left untouched unless --force is given.`,
	RunE: runSetup,
}

func init() {
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(setupCmd)
}

const starterConfig = `# korpus configuration.
# Environment variables override these values (KORPUS_* prefix, plus
# OPENAI_API_KEY, AZURE_OPENAI_API_KEY, MISTRAL_API_KEY, RERANK_API_KEY,
# DATABASE_URL).

# Embedding provider: "openai" or "azure".
embedding_provider: openai
embedding_model: text-embedding-3-small
embedding_dimensions: 1536

# Chunking (token budgets).
chunk_size: 1500
chunk_overlap: 200

# Retrieval.
rag_top_k: 5
rag_similarity_threshold: 0.3
image_mode: auto

# Optional cross-encoder reranking.
rerank:
  enabled: false
  base_url: https://api.jina.ai/v1
  model: jina-reranker-v2-base-multilingual
  candidate_cap: 30
  top_n: 5

# PostgreSQL (needs the pgvector extension).
postgres_host: localhost
postgres_port: 5432
postgres_user: korpus
postgres_db_name: korpus
postgres_ssl_mode: disable
# postgres_password: set via KORPUS_POSTGRES_PASSWORD or DATABASE_URL

# Tracing (OTLP HTTP collector).
otlp_endpoint: localhost:4318
service_name: korpus
environment: dev
`

func runSetup(cmd *cobra.Command, args []string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".korpus")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !setupForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := os.WriteFile(path, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", path)
	fmt.Println("Set OPENAI_API_KEY and KORPUS_POSTGRES_PASSWORD, then run: korpus migrate")
	return nil
}
