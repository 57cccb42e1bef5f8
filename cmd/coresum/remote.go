package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ipsix/coresum/internal/remote"
	"github.com/ipsix/coresum/internal/report"
)

func remoteCmd() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "query a running watch daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Value: "http://127.0.0.1:8790",
				Usage: "status API base URL",
			},
			&cli.StringFlag{
				Name:    "token",
				EnvVars: []string{"CORESUM_API_TOKEN"},
				Usage:   "status API token",
			},
		},
		Subcommands: []*cli.Command{
			{
				Name:  "health",
				Usage: "check that the daemon is reachable",
				Action: func(c *cli.Context) error {
					if err := remoteClient(c).Health(c.Context); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "Success: %s is healthy.\n", c.String("addr"))
					return nil
				},
			},
			{
				Name:  "targets",
				Usage: "list targets and their schedules",
				Action: func(c *cli.Context) error {
					targets, err := remoteClient(c).Targets(c.Context)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
					fmt.Fprintln(tw, "TARGET\tSCHEDULE\tRUNNING\tLAST RUN\tNEXT RUN")
					for _, t := range targets {
						fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", t.Name, t.Schedule, t.Running, stamp(t.LastRun), stamp(t.NextRun))
					}
					return tw.Flush()
				},
			},
			{
				Name:  "runs",
				Usage: "show the latest run of every target",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: "table", Usage: "table, json or yaml"},
				},
				Action: func(c *cli.Context) error {
					runs, err := remoteClient(c).LatestRuns(c.Context)
					if err != nil {
						return err
					}
					return printRuns(c, runs)
				},
			},
			{
				Name:      "trigger",
				Usage:     "verify a target now and print its discrepancies",
				ArgsUsage: "<target>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "format", Value: string(report.FormatPlain), Usage: "report format"},
				},
				Action: func(c *cli.Context) error {
					name := c.Args().First()
					if name == "" {
						return fmt.Errorf("target name is required")
					}
					format, err := report.ParseFormat(c.String("format"))
					if err != nil {
						return err
					}
					run, err := remoteClient(c).Trigger(c.Context, name)
					if err != nil {
						return err
					}
					if run.Error != "" {
						return errors.New(run.Error)
					}
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
				},
			},
			{
				Name:      "show",
				Usage:     "print a run as JSON",
				ArgsUsage: "<run id>",
				Action: func(c *cli.Context) error {
					run, err := remoteClient(c).Run(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					enc := json.NewEncoder(c.App.Writer)
					enc.SetIndent("", "  ")
					return enc.Encode(run)
				},
			},
		},
	}
}

func remoteClient(c *cli.Context) *remote.Client {
	return remote.NewClient(c.String("addr"), c.String("token"))
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
