package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ipsix/coresum/internal/history"
	"github.com/ipsix/coresum/internal/state"
	"github.com/ipsix/coresum/internal/storage"
)

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list recorded verification runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Usage: "only runs of this target",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 20,
				Usage: "show at most this many of the newest runs (0 for all)",
			},
			&cli.StringFlag{
				Name:  "format",
				Value: "table",
				Usage: "table, json or yaml",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			store, err := storage.Open(storage.Options{
				Path:                cfg.Storage.DBPath,
				EncryptionKeyBase64: cfg.Storage.EncryptionKeyBase64,
				Logger:              newLogger(c, "warn"),
			})
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := history.NewRunsStore(store).List(c.String("target"))
			if err != nil {
				return err
			}
			if limit := c.Int("limit"); limit > 0 && len(runs) > limit {
				runs = runs[len(runs)-limit:]
			}
			summaries := make([]state.RunSummary, 0, len(runs))
			for _, run := range runs {
				summaries = append(summaries, state.Summarize(run))
			}
			return printRuns(c, summaries)
		},
	}
}

func printRuns(c *cli.Context, runs []state.RunSummary) error {
	out := c.App.Writer
	switch c.String("format") {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(runs); err != nil {
			return err
		}
		return enc.Close()
	case "table":
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FINISHED\tTARGET\tVERSION\tLOCALE\tRESULT\tMISSING\tMISMATCHED\tUNEXPECTED")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
				r.FinishedAt.Format(time.RFC3339), r.Target, r.Version, r.Locale,
				outcome(r), r.Missing, r.Mismatched, r.Unexpected)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("invalid format %q (use one of table, json, yaml)", c.String("format"))
	}
}

func outcome(r state.RunSummary) string {
	switch {
	case r.Error != "":
		return "error"
	case r.Passed:
		return "passed"
	default:
		return "failed"
	}
}
