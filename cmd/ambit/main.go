// Package main provides the demo CLI: a stock reservation walkthrough run
// through the execution engine against a configurable storage backend.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ambit-dev/ambit/internal/platform/config"

	ambitcmd "github.com/ambit-dev/ambit/internal/cmd/ambit"
)

func main() {
	cfg, err := ambitcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ambitcmd.Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		config.Exitf("Error: %v", err)
	}
}
