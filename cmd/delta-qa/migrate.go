package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/izavyalov-dev/delta-qa/state"
)

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "status",
				Usage: "List pending migrations without applying them",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c, false)
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("database_url is required")
			}
			db, err := openDB(c.Context, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			store := state.NewStore(db)

			if c.Bool("status") {
				pending, err := store.PendingMigrations(c.Context)
				if err != nil {
					return err
				}
				for _, id := range pending {
					fmt.Fprintln(c.App.Writer, id)
				}
				return nil
			}

			applied, err := store.ApplyMigrations(c.Context)
			if err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			newLoggerFactory(cfg)("migrate").Info("migrations applied", "event", "migrations_applied", "migrations", applied, "count", len(applied))
			return nil
		},
	}
}
