package main

import (
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/kingrea/bridgera/internal/tui"
)

type consoleOptions struct {
	noHTTP bool
}

func newConsoleCmd(opts *globalOptions) *cobra.Command {
	local := consoleOptions{}

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Open the interactive console",
		Long: `Open the interactive console.

The HTTP adapter runs alongside the console when http.enabled is true, so the
same session can be driven from scripts while the console is open.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, opts, local)
		},
	}
	cmd.Flags().BoolVar(&local.noHTTP, "no-http", false, "Do not start the HTTP adapter")
	return cmd
}

func runConsole(cmd *cobra.Command, opts *globalOptions, local consoleOptions) (err error) {
	rt, err := openRuntime(opts, true)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
	}()

	ctx := cmd.Context()
	if !local.noHTTP {
		if err := rt.startServer(ctx); err != nil {
			return err
		}
	}

	title := "⬡ BRIDGERA · " + filepath.Base(rt.cfg.ProjectDir)
	app, err := tui.NewApp(rt.engine,
		tui.WithContext(ctx),
		tui.WithLogbook(rt.journal),
		tui.WithTitle(title),
	)
	if err != nil {
		return err
	}
	rt.logger.Info().Str("project", rt.cfg.ProjectDir).Msg("console started")

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
