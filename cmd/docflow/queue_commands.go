package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/docflow/pkg/api"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and maintain the job queue",
	}
	cmd.AddCommand(newQueueStatsCommand(ctx))
	cmd.AddCommand(newQueueJobsCommand(ctx))
	cmd.AddCommand(newQueueCleanCommand(ctx))
	cmd.AddCommand(newQueueCancelCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.Dispatcher.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, stats)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statsTable(stats))
			return nil
		},
	}
}

func newQueueJobsCommand(ctx *commandContext) *cobra.Command {
	var state, field, value string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs by state or correlation field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var jobs []*api.Job
			if field != "" {
				jobs, err = a.Dispatcher.JobsByCorrelation(cmd.Context(), field, value)
			} else {
				st, perr := api.ParseJobState(state)
				if perr != nil {
					return perr
				}
				jobs, err = a.Dispatcher.JobsByState(cmd.Context(), st, limit)
			}
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobsTable(jobs))
			return nil
		},
	}
	cmd.Flags().StringVar(&state, "state", string(api.JobFailed), "Job state to list")
	cmd.Flags().StringVar(&field, "field", "", "Correlation field in job data (e.g. documentId)")
	cmd.Flags().StringVar(&value, "value", "", "Correlation value")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum jobs to list (0 = all)")
	return cmd
}

func newQueueCleanCommand(ctx *commandContext) *cobra.Command {
	var retention bool

	cmd := &cobra.Command{
		Use:   "clean [state]",
		Short: "Remove every job in a state, or apply the retention policy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention == (len(args) == 1) {
				return fmt.Errorf("give either a state or --retention")
			}
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if retention {
				report, err := a.Cleaner.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.wantJSON(cmd) {
					return writeJSON(cmd, report)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d completed, %d failed, %d stalled jobs\n",
					report.Completed, report.Failed, report.Stalled)
				return nil
			}

			state, err := api.ParseJobState(args[0])
			if err != nil {
				return err
			}
			n, err := a.Dispatcher.CleanState(cmd.Context(), state)
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, map[string]int{"removed": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d %s jobs\n", n, state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&retention, "retention", false, "Apply the configured retention policy")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	var field string

	cmd := &cobra.Command{
		Use:   "cancel <value>",
		Short: "Remove pending and running jobs correlated with a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Dispatcher.CancelByCorrelation(cmd.Context(), field, args[0])
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, map[string]int{"removed": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %d jobs with %s=%s\n", n, field, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", api.FieldDocumentID, "Correlation field in job data")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>...",
		Short: "Move failed jobs back to waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.Dispatcher.Requeue(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %s\n", id)
			}
			return nil
		},
	}
}
