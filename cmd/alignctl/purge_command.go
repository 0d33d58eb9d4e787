package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/cisco7507/align-audio/internal/artifacts"
	"github.com/cisco7507/align-audio/internal/retention"
)

func newPurgeCommand(ctx *commandContext) *cobra.Command {
	var (
		dryRun  bool
		every   time.Duration
		jobDays int
		rawDays int
	)
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete expired jobs and raw uploads",
		Long: "Deletes jobs older than the job retention together with their files, and\n" +
			"removes the uploaded inputs of jobs whose raw audio retention has lapsed.\n" +
			"Pinned and unfinished jobs are never touched.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeStore, err := ctx.openStore(cmd.Context(), ctx.cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer closeStore()
			mirror, err := ctx.openMirror(cmd.Context(), ctx.cfg)
			if err != nil {
				return fmt.Errorf("open mirror: %w", err)
			}

			purger := retention.New(retention.Options{
				Store:             st,
				Layout:            artifacts.NewLayout(ctx.cfg.MediaRoot),
				Mirror:            mirror,
				JobRetention:      days(jobDays),
				RawAudioRetention: days(rawDays),
				Logger:            ctx.logger,
			})
			if every > 0 {
				return purger.RunEvery(cmd.Context(), every, dryRun)
			}

			report, err := purger.Sweep(cmd.Context(), dryRun)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), report)
			if report.Errors > 0 {
				return fmt.Errorf("%d retention actions failed", report.Errors)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be purged without changing anything")
	cmd.Flags().DurationVar(&every, "every", 0, "Keep running, sweeping at this interval (e.g. 6h)")
	cmd.Flags().IntVar(&jobDays, "job-days", ctx.cfg.JobRetentionDays, "Delete jobs older than this many days")
	cmd.Flags().IntVar(&rawDays, "raw-days", ctx.cfg.RawAudioOnlyDays, "Purge uploaded inputs after this many days")
	return cmd
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func printReport(out io.Writer, report retention.Report) {
	verb := map[retention.ActionKind]string{
		retention.ActionDeleteJob: "delete job",
		retention.ActionPurgeRaw:  "purge raw audio",
	}
	for _, a := range report.Actions {
		line := fmt.Sprintf("%-16s %s (%.1f days old)", verb[a.Kind], a.JobID, a.AgeDays)
		if a.Error != "" {
			line += ": " + a.Error
		}
		fmt.Fprintln(out, line)
	}
	fmt.Fprintln(out, report.String())
}
