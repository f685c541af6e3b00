package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/kingrea/bridgera/internal/config"
	"github.com/kingrea/bridgera/internal/engine"
	"github.com/kingrea/bridgera/internal/logging"
	"github.com/kingrea/bridgera/internal/operation"
	"github.com/kingrea/bridgera/internal/operations"
	"github.com/kingrea/bridgera/internal/session"
)

// withRuntime opens a headless runtime for the duration of fn.
func withRuntime(opts *globalOptions, fn func(rt *runtime) error) (err error) {
	rt, err := openRuntime(opts, false)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()
	return fn(rt)
}

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP adapter without the console",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				ctx := cmd.Context()
				if err := rt.startServer(ctx); err != nil {
					return err
				}
				if rt.server == nil {
					return errors.New("http adapter is disabled (http.enabled: false)")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s\n", rt.server.BaseURL())
				select {
				case <-ctx.Done():
					rt.logger.Info().Msg("shutting down")
					return nil
				case <-rt.server.Done():
					return rt.server.Err()
				}
			})
		},
	}
}

func newOpsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ops",
		Short: "List the operations offered for the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				return printOperations(cmd.OutOrStdout(), rt.engine)
			})
		},
	}
}

func printOperations(out io.Writer, eng *engine.Engine) error {
	w := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTIER\tLAST\tLABEL")
	for _, view := range eng.Operations() {
		last := "-"
		if run, ok := eng.LastRun(view.Name); ok {
			last = string(run.Outcome)
		}
		name := view.Name
		if view.Selected {
			name = "*" + name
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, view.Tier, last, view.Label)
	}
	return w.Flush()
}

type execOptions struct {
	full      bool
	keepGoing bool
}

func newExecCmd(opts *globalOptions) *cobra.Command {
	local := execOptions{}

	cmd := &cobra.Command{
		Use:   "exec <operation> [operation...]",
		Short: "Execute operations in order and print their responses",
		Long: `Execute one or more operations in order against the persisted session.

Each operation's stored response is printed as JSON. A failed operation stops
the sequence unless --keep-going is set.

Examples:
  bridgera exec getInstanceIdCM
  bridgera exec getInstanceIdCM createBasicDigitalId writeDigitalIdOnCard
  bridgera exec --full readDataRecord`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				return execSequence(cmd, rt.engine, args, local)
			})
		},
	}
	cmd.Flags().BoolVar(&local.full, "full", false, "Print the whole result instead of the response field")
	cmd.Flags().BoolVar(&local.keepGoing, "keep-going", false, "Continue after a failed operation")
	return cmd
}

func execSequence(cmd *cobra.Command, eng *engine.Engine, names []string, local execOptions) error {
	out := cmd.OutOrStdout()
	var failures *multierror.Error
	for _, name := range names {
		result, err := eng.Execute(cmd.Context(), name)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if result.Status == engine.StatusUnavailable {
			return fmt.Errorf("%s: not available for the current session", name)
		}
		if err := printResult(out, result, local.full); err != nil {
			return err
		}
		if result.Status == engine.StatusFailed {
			failures = multierror.Append(failures, fmt.Errorf("%s failed: %s", name, result.Error))
			if !local.keepGoing {
				break
			}
		}
	}
	return failures.ErrorOrNil()
}

func printResult(out io.Writer, result engine.Result, full bool) error {
	var value any = result
	if !full {
		if raw, ok := result.Patch.Get(operation.ResponseKey(result.Operation)); ok {
			value = raw
		} else {
			value = map[string]any{"operation": result.Operation, "status": result.Status}
		}
	}
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", encoded)
	return err
}

func newStateCmd(opts *globalOptions) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				return printState(cmd.OutOrStdout(), rt.engine.State(), reveal)
			})
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show sensitive values unmasked")
	return cmd
}

func printState(out io.Writer, state session.State, reveal bool) error {
	view := make(map[string]json.RawMessage, len(state))
	for _, key := range state.Keys() {
		value := state[key]
		if !reveal {
			value = logging.RedactJSON(key, value)
		}
		view[key] = value
	}
	encoded, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s\n", encoded)
	return err
}

func newClearCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Clear the session, unbinding the instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(opts, func(rt *runtime) error {
				result, err := rt.engine.Execute(cmd.Context(), operations.ClearAppState)
				if err != nil {
					return err
				}
				if result.Status != engine.StatusSucceeded {
					return fmt.Errorf("clear failed: %s", result.Error)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Session cleared")
				return nil
			})
		},
	}
}

func newInitCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create .bridgera with a default config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir, err := resolveProjectDir(opts.projectDir)
			if err != nil {
				return err
			}
			if err := config.InitProjectDir(projectDir); err != nil {
				return err
			}
			cfg, err := config.NewConfig(projectDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n", cfg.ProjectConfigPath())
			return nil
		},
	}
}
