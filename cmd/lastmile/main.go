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

	if err := newRootCommand(defaultFactories()).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "lastmile: %v\n", err)
		os.Exit(1)
	}
}
