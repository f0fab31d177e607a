package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/spaceryder/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.BuildCLI().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tripctl:", err)
		os.Exit(1)
	}
}
