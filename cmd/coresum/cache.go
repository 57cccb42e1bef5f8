package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/storage"
)

func cacheCmd() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "manage cached release checksums",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list cached releases, newest first",
				Action: func(c *cli.Context) error {
					return withCache(c, func(cache *manifest.Cache) error {
						entries, err := cache.List()
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
						fmt.Fprintln(tw, "VERSION\tLOCALE\tFILES\tFETCHED")
						for _, e := range entries {
							fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Version, e.Locale, e.Files, e.FetchedAt.Format(time.RFC3339))
						}
						return tw.Flush()
					})
				},
			},
			{
				Name:  "clear",
				Usage: "remove every cached release",
				Action: func(c *cli.Context) error {
					return withCache(c, func(cache *manifest.Cache) error {
						n, err := cache.Clear()
						if err != nil {
							return err
						}
						fmt.Fprintf(c.App.Writer, "Success: Removed %d cached checksum files.\n", n)
						return nil
					})
				},
			},
		},
	}
}

func withCache(c *cli.Context, fn func(*manifest.Cache) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, "warn")
	store, err := storage.Open(storage.Options{
		Path:                cfg.Storage.DBPath,
		EncryptionKeyBase64: cfg.Storage.EncryptionKeyBase64,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(manifest.NewCache(store, nil, cfg.Manifest.CacheTTLDuration(), logger))
}
