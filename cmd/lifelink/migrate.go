package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/lifelink/lifelink/pkg/logger"
)

var migrateCommand = &cli.Command{
	Name:   "migrate",
	Usage:  "Apply database schema migrations and exit",
	Action: migrate,
}

func migrate(cCtx *cli.Context) error {
	cfg, err := loadRuntimeConfig(cCtx.String("config"))
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	closeDatabase(db, logger.WithModule("database"))

	fmt.Fprintln(cCtx.App.Writer, "migrations applied")
	return nil
}
