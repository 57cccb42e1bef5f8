package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/audit"
	"github.com/ipsix/coresum/internal/logging"
	"github.com/ipsix/coresum/internal/manifest"
	"github.com/ipsix/coresum/internal/report"
	"github.com/ipsix/coresum/internal/storage"
)

var errNotVerified = errors.New(report.FailureMessage)

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:  "verify",
		Usage: "verify core files against the release checksums",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "version",
				Usage: "verify against this release instead of the installed one",
			},
			&cli.StringFlag{
				Name:  "locale",
				Usage: "verify against this locale of the release",
			},
			&cli.BoolFlag{
				Name:  "include-root",
				Usage: "also verify files in the root directory",
			},
			&cli.StringFlag{
				Name:  "exclude",
				Usage: "comma separated list of files to skip",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: string(report.FormatPlain),
				Usage: "output format: " + strings.Join(report.Formats(), ", "),
			},
			&cli.BoolFlag{
				Name:  "insecure",
				Usage: "retry the checksum download without certificate verification after a TLS error",
			},
			&cli.BoolFlag{
				Name:  "cache",
				Usage: "keep downloaded checksums in the local database",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "files hashed in parallel (default: one per CPU)",
			},
		},
		Action: runVerify,
	}
}

func runVerify(c *cli.Context) error {
	format, err := report.ParseFormat(c.String("format"))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(c, "warn")

	root := c.String("path")
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return err
		}
	}

	if c.Bool("insecure") {
		cfg.Manifest.Insecure = true
	}
	var store storage.Store
	if c.Bool("cache") {
		bs, err := storage.Open(storage.Options{
			Path:                cfg.Storage.DBPath,
			EncryptionKeyBase64: cfg.Storage.EncryptionKeyBase64,
			Logger:              logger,
		})
		if err != nil {
			return err
		}
		defer bs.Close()
		store = bs
	}
	cfg.Manifest.CacheEnabled = store != nil

	runner := audit.NewRunner(manifest.FromConfig(cfg.Manifest, store, logger), logger)
	runner.SetWorkers(c.Int("workers"))
	run, err := runner.Verify(context.Background(), audit.Target{
		Name:        "cli",
		Root:        root,
		Version:     c.String("version"),
		Locale:      c.String("locale"),
		IncludeRoot: c.Bool("include-root"),
		Exclude:     splitList(c.String("exclude")),
	})
	if err != nil {
		return err
	}
	logger.Debug("verified install",
		logging.Field{Key: "root", Value: root},
		logging.Field{Key: "version", Value: run.Version},
		logging.Field{Key: "locale", Value: run.Locale},
		logging.Field{Key: "duration", Value: run.Duration.String()},
	)

	// Plain output is a list of warnings and goes where warnings go.
	out := c.App.Writer
	if format == report.FormatPlain {
		out = c.App.ErrWriter
	}
	if err := report.Render(out, format, run.Result.Discrepancies); err != nil {
		return err
	}
	if !run.Passed {
		return errNotVerified
	}
	fmt.Fprintln(c.App.Writer, report.Verdict(true))
	return nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
