package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			version, err := db.SchemaVersion(ctx)
			if err != nil {
				return fmt.Errorf("failed to read schema version: %w", err)
			}

			out := cmd.OutOrStdout()
			for _, v := range applied {
				fmt.Fprintf(out, "Applied migration %03d\n", v)
			}
			fmt.Fprintf(out, "Schema is at version %d\n", version)
			return nil
		},
	}
}
