package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sigsummary/internal/constants"
	"sigsummary/internal/database"
	apperrors "sigsummary/internal/errors"
	"sigsummary/internal/models"
	"sigsummary/internal/privacy"
	"sigsummary/internal/service"
	"sigsummary/internal/validation"
)

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage summary schedules",
	}

	cmd.AddCommand(newScheduleAddCmd(opts))
	cmd.AddCommand(newScheduleListCmd(opts))
	cmd.AddCommand(newScheduleToggleCmd(opts, "enable", true))
	cmd.AddCommand(newScheduleToggleCmd(opts, "disable", false))
	cmd.AddCommand(newScheduleRemoveCmd(opts))
	cmd.AddCommand(newScheduleRunCmd(opts))
	cmd.AddCommand(newScheduleHistoryCmd(opts))
	return cmd
}

type storeFunc func(ctx context.Context, cfg *models.Config, logger *logrus.Logger, db *database.Database) error

// withStore loads the config, opens the store for the duration of fn and
// closes it afterwards.
func withStore(cmd *cobra.Command, opts *rootOptions, fn storeFunc) error {
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
	return fn(ctx, cfg, logger, db)
}

func parseScheduleID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id", arg, "must be a positive integer")
	}
	return id, nil
}

func newScheduleAddCmd(opts *rootOptions) *cobra.Command {
	var (
		name      string
		source    string
		target    string
		kind      string
		times     []string
		day       int
		timezone  string
		period    int
		retention int
		detail    bool
		disabled  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a schedule",
		Example: "  sigsummary schedule add --name evening --source group.abc= --target group.def= \\\n" +
			"    --times 08:00,20:00 --timezone America/Chicago --period 12",
		RunE: func(cmd *cobra.Command, args []string) error {
			if target == "" {
				target = source
			}
			s := &models.Schedule{
				Name:               strings.TrimSpace(name),
				SourceGroup:        source,
				TargetGroup:        target,
				ScheduleType:       models.ScheduleType(kind),
				Times:              models.TimeList(times),
				Timezone:           timezone,
				SummaryPeriodHours: period,
				RetentionHours:     retention,
				DetailMode:         detail,
				Enabled:            !disabled,
			}
			if day >= 0 {
				s.DayOfWeek = &day
			}
			if err := validation.ValidateSchedule(s); err != nil {
				return err
			}

			return withStore(cmd, opts, func(ctx context.Context, _ *models.Config, _ *logrus.Logger, db *database.Database) error {
				if err := db.CreateSchedule(ctx, s); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created schedule #%d (%s)\n", s.ID, s.Name)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "schedule name")
	cmd.Flags().StringVar(&source, "source", "", "group id to summarize")
	cmd.Flags().StringVar(&target, "target", "", "group id that receives the summary (defaults to --source)")
	cmd.Flags().StringVar(&kind, "type", string(models.ScheduleTypeDaily), "daily or weekly")
	cmd.Flags().StringSliceVar(&times, "times", nil, "comma separated HH:MM times")
	cmd.Flags().IntVar(&day, "day", -1, "day of week for weekly schedules (0=Monday..6=Sunday)")
	cmd.Flags().StringVar(&timezone, "timezone", "UTC", "IANA timezone the times are in")
	cmd.Flags().IntVar(&period, "period", constants.DefaultSummaryPeriodHours, "hours of history each summary covers")
	cmd.Flags().IntVar(&retention, "retention", constants.DefaultRetentionHours, "message retention hours this schedule needs")
	cmd.Flags().BoolVar(&detail, "detail", false, "produce detailed summaries")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the schedule disabled")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("times")
	return cmd
}

func newScheduleListCmd(opts *rootOptions) *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, opts, func(ctx context.Context, _ *models.Config, _ *logrus.Logger, db *database.Database) error {
				list, err := db.ListSchedules(ctx, database.ScheduleFilter{EnabledOnly: enabledOnly})
				if err != nil {
					return err
				}
				writeScheduleTable(cmd.OutOrStdout(), list, time.Now(), opts.verbose)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only show enabled schedules")
	return cmd
}

func writeScheduleTable(out io.Writer, list []models.Schedule, now time.Time, verbose bool) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No schedules.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSOURCE\tTARGET\tWHEN\tPERIOD\tENABLED\tLAST RUN")
	for _, s := range list {
		source, target := s.SourceGroup, s.TargetGroup
		if !verbose {
			source, target = privacy.MaskGroupID(source), privacy.MaskGroupID(target)
		}
		lastRun := "never"
		if s.LastRun != nil {
			lastRun = humanize.RelTime(*s.LastRun, now, "ago", "from now")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%dh\t%t\t%s\n",
			s.ID, s.Name, source, target, describeWhen(s), s.SummaryPeriodHours, s.Enabled, lastRun)
	}
	w.Flush()
}

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func describeWhen(s models.Schedule) string {
	when := strings.Join(s.Times, ",") + " " + s.Timezone
	if s.ScheduleType == models.ScheduleTypeWeekly && s.DayOfWeek != nil && *s.DayOfWeek >= 0 && *s.DayOfWeek < len(weekdays) {
		return weekdays[*s.DayOfWeek] + " " + when
	}
	return "daily " + when
}

func newScheduleToggleCmd(opts *rootOptions, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, _ *models.Config, _ *logrus.Logger, db *database.Database) error {
				if err := db.SetScheduleEnabled(ctx, id, enabled); err != nil {
					return notFoundAs(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule #%d %sd\n", id, verb)
				return nil
			})
		},
	}
}

func newScheduleRemoveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a schedule and its run history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, _ *models.Config, _ *logrus.Logger, db *database.Database) error {
				if err := db.DeleteSchedule(ctx, id); err != nil {
					return notFoundAs(err, args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule #%d removed\n", id)
				return nil
			})
		},
	}
}

func newScheduleRunCmd(opts *rootOptions) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <id>",
		Short: "Run a schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, cfg *models.Config, logger *logrus.Logger, db *database.Database) error {
				sum, err := newSummarizer(cfg, logger)
				if err != nil {
					return err
				}
				trigger := service.NewTrigger(db, newTransport(cfg, logger), sum, service.TriggerOptions{
					MisfireGrace: time.Duration(cfg.Scheduler.MisfireGraceMinutes) * time.Minute,
					RunTimeout:   time.Duration(cfg.Summarizer.TimeoutSec) * time.Second,
					DryRun:       cfg.DryRun,
				}, logger)

				run, err := trigger.RunNow(ctx, id, dryRun)
				if run != nil {
					fmt.Fprintln(cmd.OutOrStdout(), describeRun(*run))
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "generate the summary but do not send it")
	return cmd
}

func newScheduleHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show recent runs of a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseScheduleID(args[0])
			if err != nil {
				return err
			}
			return withStore(cmd, opts, func(ctx context.Context, _ *models.Config, _ *logrus.Logger, db *database.Database) error {
				runs, err := db.ListSummaryRuns(ctx, id, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				for _, run := range runs {
					fmt.Fprintln(out, describeRun(run))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of runs to show")
	return cmd
}

func describeRun(run models.SummaryRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s messages", run.StartedAt.Format(time.RFC3339), run.Status, humanize.Comma(int64(run.MessageCount)))
	if run.DryRun {
		b.WriteString("  (dry run)")
	}
	if run.ErrorMessage != nil {
		fmt.Fprintf(&b, "  error: %s", *run.ErrorMessage)
	}
	return b.String()
}

func notFoundAs(err error, id string) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperrors.NewNotFoundError("schedule", id)
	}
	return err
}
