package main

import (
	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/daemon"
	"github.com/ipsix/coresum/internal/logging"
)

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "verify the configured targets on their schedules until interrupted",
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if path == "" {
				path = config.DefaultConfigPath
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if level := c.String("log-level"); level != "" {
				cfg.Daemon.LogLevel = level
			}
			if c.IsSet("log-format") {
				cfg.Daemon.LogFormat = c.String("log-format")
			}
			logger := logging.NewWithOptions(logging.Options{
				Format: cfg.Daemon.LogFormat,
				Level:  cfg.Daemon.LogLevel,
				Output: c.App.ErrWriter,
			})
			logger.Info("coresum starting", logging.Field{Key: "config", Value: cfg.Redacted()})

			return daemon.New(cfg, logger).Run(c.Context)
		},
	}
}
