package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/korpusai/korpus/internal/store"
)

// scopeFlags are the document scope selectors shared by the ingest, search,
// rechunk, and documents commands. At most one of chat and pool may be set.
type scopeFlags struct {
	owner string
	chat  string
	pool  string
}

func (f *scopeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.owner, "owner", "", "owner (tenant) identifier")
	cmd.Flags().StringVar(&f.chat, "chat", "", "conversation UUID to scope to")
	cmd.Flags().StringVar(&f.pool, "pool", "", "document pool UUID to scope to")
}

func (f *scopeFlags) parse() (store.Scope, error) {
	sc := store.Scope{OwnerID: f.owner}

	if f.chat != "" {
		id, err := uuid.Parse(f.chat)
		if err != nil {
			return store.Scope{}, fmt.Errorf("parsing --chat: %w", err)
		}
		sc.ChatID = &id
	}
	if f.pool != "" {
		id, err := uuid.Parse(f.pool)
		if err != nil {
			return store.Scope{}, fmt.Errorf("parsing --pool: %w", err)
		}
		sc.PoolID = &id
	}

	if err := sc.Validate(); err != nil {
		return store.Scope{}, err
	}
	return sc, nil
}
