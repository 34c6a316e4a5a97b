package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petrijr/docflow/internal/engine"
	"github.com/petrijr/docflow/internal/persistence"
	"github.com/petrijr/docflow/internal/steps"
)

func newDefinitionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "definitions",
		Short: "Work with pipeline and workflow definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate [path]",
		Short: "Check definition files against the built-in steps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				path = cfg.Definitions.Path
			}
			if path == "" {
				return fmt.Errorf("no definitions path given or configured")
			}

			defs, err := persistence.LoadDefinitions(path)
			if err != nil {
				return err
			}
			reg := engine.NewStepRegistry(nil)
			if err := steps.RegisterDefaults(reg); err != nil {
				return err
			}
			if err := engine.ValidateDefinitions(defs, reg); err != nil {
				return err
			}

			if ctx.wantJSON(cmd) {
				return writeJSON(cmd, defs)
			}
			rows := make([][]string, 0, len(defs))
			for _, d := range defs {
				d.Normalize()
				rows = append(rows, []string{d.ID, string(d.Kind), fmt.Sprint(d.IsActive), fmt.Sprint(len(d.Nodes))})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Kind", "Active", "Nodes"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
			))
			fmt.Fprintf(cmd.OutOrStdout(), "%d definitions OK\n", len(defs))
			return nil
		},
	})
	return cmd
}
