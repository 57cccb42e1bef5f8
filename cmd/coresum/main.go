package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/install"
	"github.com/ipsix/coresum/internal/logging"
)

const appVersion = "1.0.0"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	app := newApp(stdout, stderr)
	if err := app.Run(args); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if errors.Is(err, install.ErrNotAnInstall) {
			fmt.Fprintln(stderr, install.Hint)
		}
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "coresum",
		Usage:     "verify FinPress core files against release checksums",
		Version:   appVersion,
		Writer:    stdout,
		ErrWriter: stderr,
		// Errors are reported by run; the default handler would exit.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "path",
				Usage: "install root to verify (default: working directory)",
			},
			&cli.StringFlag{
				Name:    "config",
				EnvVars: []string{"CORESUM_CONFIG"},
				Usage:   "config file (required by watch)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "json or text",
			},
		},
		Commands: []*cli.Command{
			verifyCmd(),
			watchCmd(),
			historyCmd(),
			cacheCmd(),
			validateCmd(),
			remoteCmd(),
		},
	}
}

// loadConfig loads --config, or the defaults when it is not set.
func loadConfig(c *cli.Context) (config.Config, error) {
	return config.LoadOrDefault(c.String("config"))
}

// newLogger logs to stderr so that stdout carries only reports. The level
// defaults to fallback when --log-level is not given.
func newLogger(c *cli.Context, fallback string) *logging.Logger {
	level := c.String("log-level")
	if level == "" {
		level = fallback
	}
	return logging.NewWithOptions(logging.Options{
		Format: c.String("log-format"),
		Level:  level,
		Output: c.App.ErrWriter,
	})
}
