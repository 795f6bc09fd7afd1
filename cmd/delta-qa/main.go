package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/izavyalov-dev/delta-qa/orchestrator"
)

func main() {
	app := &cli.App{
		Name:    "delta-qa",
		Usage:   "Analyze pull requests for test coverage gaps and plan the missing tests",
		Version: orchestrator.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{"DELTA_QA_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			analyzeCommand(),
			migrateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "delta-qa: %v\n", err)
		os.Exit(1)
	}
}
