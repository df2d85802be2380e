// Command ingest chunks markdown documents and loads them into a vector store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docembed/cmd/ingest/commands"
)

func main() {
	// Ctrl-C stops the run between batches; written batches are kept
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	stop()
	os.Exit(commands.ExitCode(err))
}
