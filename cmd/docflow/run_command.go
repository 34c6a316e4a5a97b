package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/pkg/api"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var executionID, documentID string

	cmd := &cobra.Command{
		Use:   "run <definition-id> <items-file>",
		Short: "Execute a definition synchronously over a file of items",
		Long: `Execute a definition in this process without the queue.

Each non-empty line of the items file is one item: a JSON object with
id/content/metadata fields, or plain text. Use "-" to read stdin.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			items, err := readItems(in)
			if err != nil {
				return err
			}

			a, err := ctx.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Executor.Execute(cmd.Context(), engine.Request{
				DefinitionID: args[0],
				ExecutionID:  executionID,
				Items:        items,
				DocumentID:   documentID,
			})
			if res == nil || res.Execution == nil {
				return err
			}
			if ctx.wantJSON(cmd) {
				if werr := writeJSON(cmd, map[string]any{"execution": res.Execution, "items": res.Items}); werr != nil {
					return werr
				}
				return err
			}
			printExecution(cmd, res.Execution)
			return err
		},
	}
	cmd.Flags().StringVar(&executionID, "execution-id", "", "Reuse an execution id (resumes from its cached outputs)")
	cmd.Flags().StringVar(&documentID, "document-id", "", "Document id recorded on the execution")
	return cmd
}

func readItems(r io.Reader) ([]api.Item, error) {
	var items []api.Item
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var it api.Item
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &it); err != nil {
				return nil, fmt.Errorf("line %d: %w", n, err)
			}
		} else {
			it.Content = line
		}
		if it.ID == "" {
			it.ID = fmt.Sprintf("item-%d", len(items)+1)
		}
		items = append(items, it)
	}
	return items, sc.Err()
}

func printExecution(cmd *cobra.Command, exec *api.Execution) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Execution %s: %s\n", exec.ID, exec.Status)
	if exec.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", exec.Error)
	}
	rows := make([][]string, 0, len(exec.Metrics.Nodes))
	for _, n := range exec.Metrics.Nodes {
		rows = append(rows, []string{n.NodeID, n.StepType, fmt.Sprint(n.ItemsIn), fmt.Sprint(n.ItemsOut), fmt.Sprint(n.Cached), n.Duration.String()})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Node", "Step", "In", "Out", "Cached", "Duration"}, rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignRight},
		))
	}
	fmt.Fprintf(out, "%d items processed in %s\n", exec.Metrics.ItemsProcessed, exec.Metrics.TotalDuration)
}
