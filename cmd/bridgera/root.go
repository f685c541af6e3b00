package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. With no subcommand it opens the
// console.
func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	cmd := &cobra.Command{
		Use:   "bridgera",
		Short: "Operator console for card-present digital identity",
		Long: `bridgera drives a digital-identity bridge one operation at a time.

Bind an instance with getInstanceIdCM or getInstanceIdAcceptor to unlock the
full catalog. Responses and identifiers are kept in .bridgera/state so a
restarted console resumes where it stopped.

Examples:
  bridgera                      # open the console
  bridgera serve                # HTTP adapter only
  bridgera exec getInstanceIdCM createBasicDigitalId
  bridgera scenario run basic-card
  bridgera state --reveal`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, opts, consoleOptions{})
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.projectDir, "dir", "", "Project directory holding .bridgera (default: working directory)")
	flags.BoolVar(&opts.ephemeral, "ephemeral", false, "Keep the session in memory only")
	flags.StringVar(&opts.mode, "mode", "", "Bridge mode override: simulator or http")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level override: debug, info, warn, error")

	cmd.AddCommand(
		newConsoleCmd(opts),
		newServeCmd(opts),
		newOpsCmd(opts),
		newExecCmd(opts),
		newScenarioCmd(opts),
		newStateCmd(opts),
		newClearCmd(opts),
		newInitCmd(opts),
	)
	return cmd
}
