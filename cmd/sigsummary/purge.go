package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"sigsummary/internal/service"
	"sigsummary/internal/validation"
)

func newPurgeCmd(opts *rootOptions) *cobra.Command {
	var (
		group string
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Run one retention sweep, or wipe a single group",
		Long: "Without flags, purge runs one synchronous retention sweep over every group and prints\n" +
			"what it deleted. With --group, every stored message of that group is deleted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cfg, logger, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			db, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			resolver := service.NewRetentionResolver(db, db, cfg.Retention.DefaultHours)
			sweeper := service.NewSweeper(db, resolver, service.NewGroupLocks(), cfg.Retention.SummaryRunHours, logger)

			if group != "" {
				if err := validation.ValidateGroupID(group); err != nil {
					return err
				}
				if !yes {
					return fmt.Errorf("refusing to delete every message of a group without --yes")
				}
				deleted, err := sweeper.PurgeGroup(ctx, group)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %s messages.\n", humanize.Comma(deleted))
				return nil
			}

			result := sweeper.Sweep(ctx)
			fmt.Fprintf(out, "Swept %d groups: %s messages deleted, %s summary runs pruned.\n",
				result.GroupsSwept, humanize.Comma(result.MessagesDeleted), humanize.Comma(result.RunsDeleted))
			if result.Err != nil {
				return fmt.Errorf("%d groups failed: %w", result.Failed, result.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&group, "group", "", "delete every stored message of this group id")
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a --group purge")
	return cmd
}
