package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const version = "1.0.0"

func main() {
	app := &cli.App{
		Name:    "sentiment",
		Usage:   "Label social media comments with LLMs and compare them against human annotations",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "configs/config.yml",
				EnvVars: []string{"SENTIMENT_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			labelCommand(),
			serveCommand(),
			ingestCommand(),
			groundTruthCommand(),
			exportCommand(),
			evaluateCommand(),
			tokenCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
