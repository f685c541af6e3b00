// cmd/bridgera/main.go
//
// This is the entry point for the bridgera CLI.
// Running `bridgera` with no arguments opens the terminal console in the
// current directory; the subcommands drive the same engine headlessly.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
