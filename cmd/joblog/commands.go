package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ZanzyTHEbar/joblog/joblog/jobs"
	ports "github.com/ZanzyTHEbar/joblog/joblog/jobs/ports"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

func listCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "list job records, most recently updated first",
		UsageText: "joblog list [--limit n] [--offset n]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: "maximum records to show (0 for all)", Value: 50},
			&cli.IntFlag{Name: "offset", Usage: "records to skip"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFactory(ctx, cmd, func(f *jobs.Factory) error {
				records, err := f.Records(ctx, ports.ListOptions{
					Limit:  int(cmd.Int("limit")),
					Offset: int(cmd.Int("offset")),
				})
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "FINGERPRINT\tALGORITHM\tMODE\tRESULT\tLABEL\tUPDATED")
				for _, rec := range records {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						rec.Fingerprint.Short(),
						rec.Algorithm,
						rec.Mode,
						describePayload(rec),
						labelOf(rec),
						humanize.Time(rec.UpdatedAt),
					)
				}
				return tw.Flush()
			})
		},
	}
}

func showCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "show one record",
		UsageText: "joblog show <fingerprint-prefix>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prefix, err := prefixArg(cmd)
			if err != nil {
				return err
			}
			return withFactory(ctx, cmd, func(f *jobs.Factory) error {
				rec, err := f.Lookup(ctx, prefix)
				if err != nil {
					return lookupError(prefix, err)
				}

				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(newRecordView(rec)); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
}

func historyCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "show the training runs of one record",
		UsageText: "joblog history <fingerprint-prefix>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			prefix, err := prefixArg(cmd)
			if err != nil {
				return err
			}
			return withFactory(ctx, cmd, func(f *jobs.Factory) error {
				rec, err := f.Lookup(ctx, prefix)
				if err != nil {
					return lookupError(prefix, err)
				}
				runs, err := f.History(ctx, rec.Fingerprint)
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "STARTED\tDURATION\tMODE\tSTATUS\tERROR")
				for _, run := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
						run.StartedAt.Format(time.RFC3339),
						run.Duration.Round(time.Millisecond),
						run.Mode,
						run.Status,
						run.Error,
					)
				}
				return tw.Flush()
			})
		},
	}
}

func clearCommand(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "clear",
		Usage:     "delete every record of the collection",
		UsageText: "joblog clear --yes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "confirm the deletion", HideDefault: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withFactory(ctx, cmd, func(f *jobs.Factory) error {
				if !cmd.Bool("yes") {
					return fmt.Errorf("refusing to clear collection %q without --yes", f.Collection())
				}
				if err := f.ClearJobs(ctx); err != nil {
					return err
				}
				fmt.Fprintf(out, "cleared collection %q\n", f.Collection())
				return nil
			})
		},
	}
}

func withFactory(ctx context.Context, cmd *cli.Command, fn func(*jobs.Factory) error) error {
	f, err := openFactory(ctx, cmd)
	if err != nil {
		return err
	}
	return errors.Join(fn(f), f.Close())
}

func prefixArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected one fingerprint prefix, got %d arguments", cmd.Args().Len())
	}
	return cmd.Args().First(), nil
}

func lookupError(prefix string, err error) error {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return fmt.Errorf("no record matches %q", prefix)
	case errors.Is(err, ports.ErrAmbiguousPrefix):
		return fmt.Errorf("%q matches more than one record; use a longer prefix", prefix)
	default:
		return err
	}
}

func labelOf(rec *ports.Record) string {
	if rec.Label == nil {
		return "-"
	}
	return fmt.Sprintf("%q", *rec.Label)
}

func describePayload(rec *ports.Record) string {
	switch p := rec.Payload.(type) {
	case nil:
		if rec.BlobRef != "" {
			return "offloaded"
		}
		return "-"
	case ports.FullResult:
		return humanize.Bytes(uint64(len(p.Data)))
	case ports.SummaryMetric:
		return humanize.FtoaWithDigits(p.Value, 6)
	case ports.Prediction:
		return humanize.Comma(int64(len(p.Values))) + " values"
	default:
		return "-"
	}
}

// recordView is the YAML form of a record.
type recordView struct {
	Fingerprint string         `yaml:"fingerprint"`
	Collection  string         `yaml:"collection"`
	Algorithm   string         `yaml:"algorithm"`
	Params      map[string]any `yaml:"params"`
	Label       *string        `yaml:"label,omitempty"`
	Mode        string         `yaml:"mode"`
	Result      string         `yaml:"result"`
	Metric      *float64       `yaml:"metric,omitempty"`
	Prediction  []float64      `yaml:"prediction,omitempty,flow"`
	BlobRef     string         `yaml:"blob_ref,omitempty"`
	Attributes  map[string]any `yaml:"attributes,omitempty"`
	Created     string         `yaml:"created"`
	Updated     string         `yaml:"updated"`
}

func newRecordView(rec *ports.Record) recordView {
	v := recordView{
		Fingerprint: rec.Fingerprint.String(),
		Collection:  rec.Collection,
		Algorithm:   rec.Algorithm,
		Params:      rec.Params,
		Label:       rec.Label,
		Mode:        string(rec.Mode),
		Result:      describePayload(rec),
		BlobRef:     rec.BlobRef,
		Attributes:  rec.Attributes,
		Created:     rec.CreatedAt.Format(time.RFC3339),
		Updated:     rec.UpdatedAt.Format(time.RFC3339),
	}
	switch p := rec.Payload.(type) {
	case ports.SummaryMetric:
		v.Metric = &p.Value
	case ports.Prediction:
		v.Prediction = p.Values
	}
	return v
}
