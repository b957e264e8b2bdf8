package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/basket/genie/internal/config"
	"github.com/basket/genie/internal/persistence"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.MaxOpenConns)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", store.Driver())
			return nil
		},
	}
}
