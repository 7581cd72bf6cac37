// Package main is the entry point for the remotefs command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joe/remotefs/internal/cli"
	"github.com/joe/remotefs/internal/config"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse configuration
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.ExitFailure
	}

	app, err := config.Build(cfg, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.ExitFailure
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		_, err = app.ServeMetrics(ctx, cfg.MetricsAddr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return cli.ExitFailure
		}
	}

	// Only style output when stdout is a TTY
	styled := term.IsTerminal(int(os.Stdout.Fd()))
	printer := cli.NewPrinter(os.Stdout, os.Stderr, styled)

	return cli.NewRunner(app.Orchestrator, app.SMB, printer).Run(ctx, cfg)
}
