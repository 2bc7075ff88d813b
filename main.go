// unkprox - a minimal proxy client for a single upstream server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"unkprox/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "unkprox: %v\n", err)
		os.Exit(1)
	}
}
