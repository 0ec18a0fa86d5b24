package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "lifelink",
		Usage: "Blood donor matching and emergency requisition engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration directory or file",
				EnvVars: []string{"LIFELINK_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand,
			migrateCommand,
			sweepCommand,
			tokenCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
