package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dagweaver/internal/cli"
)

// main canonicalizes all inputs inside the CLI layer and maps errors to
// semantic exit codes. An interrupt cancels the run context, which in turn
// interrupts every live task.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
