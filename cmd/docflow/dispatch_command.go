package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/petrijr/docflow/internal/jobs"
	"github.com/petrijr/docflow/pkg/api"
	"github.com/petrijr/docflow/pkg/dispatch"
)

func newDispatchCommand(ctx *commandContext) *cobra.Command {
	var (
		dataFlag   string
		attempts   int
		priority   int
		delay      time.Duration
		timeout    time.Duration
		jobID      string
		document   string
		definition string
	)

	cmd := &cobra.Command{
		Use:   "dispatch <job-type>",
		Short: "Enqueue a job",
		Long: `Enqueue a job with JSON data.

With --document the job type defaults to document-ingest and the file
content becomes the job's content field.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data := map[string]any{}
			if dataFlag != "" {
				if err := json.Unmarshal([]byte(dataFlag), &data); err != nil {
					return fmt.Errorf("--data: %w", err)
				}
			}

			jobType := ""
			if len(args) == 1 {
				jobType = args[0]
			}
			if document != "" {
				content, err := os.ReadFile(document)
				if err != nil {
					return err
				}
				if jobType == "" {
					jobType = jobs.TypeDocumentIngest
				}
				data["content"] = string(content)
				if _, ok := data[api.FieldDocumentID]; !ok {
					data[api.FieldDocumentID] = document
				}
			}
			if definition != "" {
				data["definitionId"] = definition
			}
			if jobType == "" {
				return fmt.Errorf("job type is required")
			}

			var opts []dispatch.Option
			if attempts > 0 {
				opts = append(opts, dispatch.WithAttempts(attempts))
			}
			if priority != 0 {
				opts = append(opts, dispatch.WithPriority(priority))
			}
			if delay > 0 {
				opts = append(opts, dispatch.WithDelay(delay))
			}
			if timeout > 0 {
				opts = append(opts, dispatch.WithTimeout(timeout))
			}
			if jobID != "" {
				opts = append(opts, dispatch.WithJobID(jobID))
			}

			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := a.Dispatcher.Dispatch(cmd.Context(), jobType, data, opts...)
			if err != nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dispatched %s job %s (%s)\n", job.Type, job.ID, job.State)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFlag, "data", "", "Job data as a JSON object")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "Maximum attempts (default from config)")
	cmd.Flags().IntVar(&priority, "priority", 0, "Priority; higher runs first")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job becomes runnable")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-attempt handler timeout")
	cmd.Flags().StringVar(&jobID, "id", "", "Explicit job id")
	cmd.Flags().StringVar(&document, "document", "", "Read the document content from this file")
	cmd.Flags().StringVar(&definition, "definition", "", "Pipeline definition id")
	return cmd
}
