package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/config"
	"github.com/ipsix/coresum/internal/storage"
)

func validateCmd() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check the config file",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "storage",
				Usage: "also open the database it names",
			},
		},
		Action: func(c *cli.Context) error {
			path := c.String("config")
			if path == "" {
				path = config.DefaultConfigPath
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if c.Bool("storage") {
				store, err := storage.Open(storage.Options{
					Path:                cfg.Storage.DBPath,
					EncryptionKeyBase64: cfg.Storage.EncryptionKeyBase64,
					Logger:              newLogger(c, "warn"),
				})
				if err != nil {
					return err
				}
				if err := store.Close(); err != nil {
					return err
				}
			}
			fmt.Fprintf(c.App.Writer, "Success: %s is valid (%d targets).\n", path, len(cfg.Targets))
			return nil
		},
	}
}
