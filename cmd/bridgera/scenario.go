package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kingrea/bridgera/internal/scenario"
)

func newScenarioCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scenario",
		Short: "List and run operation scenarios",
		Long: `Scenarios are named sequences of operations with dependencies.

Builtin scenarios ship with bridgera; YAML files in .bridgera/scenarios add
new ones or replace builtins with the same id:

  id: bind-and-create
  name: Bind and create
  steps:
    - operation: getInstanceIdCM
    - operation: createBasicDigitalId
      depends_on: [getInstanceIdCM]`,
	}
	cmd.AddCommand(newScenarioListCmd(opts), newScenarioRunCmd(opts))
	return cmd
}

func newScenarioListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tSTEPS\tNAME")
				for _, sc := range rt.scenarios.List() {
					fmt.Fprintf(w, "%s\t%d\t%s\n", sc.ID, len(sc.Steps), sc.Title())
				}
				return w.Flush()
			})
		},
	}
}

func newScenarioRunCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario against the persisted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				sc, ok := rt.scenarios.Get(args[0])
				if !ok {
					return fmt.Errorf("unknown scenario %q", args[0])
				}
				out := cmd.OutOrStdout()
				var hooks []scenario.RunnerOption
				if !asJSON {
					hooks = append(hooks, scenario.WithStepHook(func(step scenario.StepReport) {
						line := fmt.Sprintf("%-12s %s", step.Status, step.Step)
						if step.Reason != "" {
							line += " (" + step.Reason + ")"
						}
						fmt.Fprintln(out, strings.TrimSpace(line))
					}))
				}
				runner, err := scenario.NewRunner(rt.engine, append(hooks, scenario.WithLogger(rt.logger))...)
				if err != nil {
					return err
				}
				report, runErr := runner.Run(cmd.Context(), sc)
				if asJSON {
					encoded, err := json.MarshalIndent(report, "", "  ")
					if err != nil {
						return fmt.Errorf("encode report: %w", err)
					}
					fmt.Fprintf(out, "%s\n", encoded)
				} else {
					fmt.Fprintln(out, report.Summary())
				}
				if runErr != nil {
					return runErr
				}
				if !report.Succeeded() {
					return fmt.Errorf("scenario %s did not complete", sc.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full report as JSON")
	return cmd
}
