package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/app"
	"github.com/korpusai/korpus/internal/config"
	"github.com/korpusai/korpus/internal/store"
)

var (
	documentsScope scopeFlags
	deleteOwner    string
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage ingested documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents in a scope",
	RunE:  runDocumentsList,
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <document-id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocumentsDelete,
}

func init() {
	documentsScope.register(documentsListCmd)
	_ = documentsListCmd.MarkFlagRequired("owner")

	documentsDeleteCmd.Flags().StringVar(&deleteOwner, "owner", "", "owner (tenant) identifier")
	_ = documentsDeleteCmd.MarkFlagRequired("owner")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
	rootCmd.AddCommand(documentsCmd)
}

func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer closeApp(a)

	return fn(ctx, a)
}

func runDocumentsList(cmd *cobra.Command, args []string) error {
	sc, err := documentsScope.parse()
	if err != nil {
		return err
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		docs, err := a.Store.ListDocuments(ctx, sc)
		if err != nil {
			return fmt.Errorf("listing documents: %w", err)
		}
		if len(docs) == 0 {
			fmt.Println("No documents in this scope.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tFILENAME\tSTATUS\tCHUNKS\tCREATED")
		for _, d := range docs {
			status := d.Status
			if d.Status == store.StatusError && d.ErrorMessage != "" {
				status = fmt.Sprintf("error (%s)", d.ErrorMessage)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				d.ID, d.Filename, status, d.ChunkCount,
				d.CreatedAt.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	})
}

func runDocumentsDelete(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parsing document id: %w", err)
	}

	return withApp(func(ctx context.Context, a *app.App) error {
		err := a.Store.DeleteDocument(ctx, id, deleteOwner)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("document %s not found", id)
		case errors.Is(err, store.ErrForbidden):
			return fmt.Errorf("document %s belongs to another owner", id)
		case err != nil:
			return fmt.Errorf("deleting document: %w", err)
		}

		fmt.Printf("Deleted %s\n", id)
		return nil
	})
}
