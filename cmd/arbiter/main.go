// Package main provides the arbiter command line.
package main

import (
	"context"
	"log"
	"os"

	"github.com/robalyx/arbiter/internal/setup"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:    "arbiter",
		Usage:   "Appeal lifecycle and review orchestration",
		Version: setup.Version,
		Commands: []*cli.Command{
			workerCommand(),
			dbCommand(),
			appealCommand(),
		},
	}

	return app.Run(context.Background(), os.Args)
}
