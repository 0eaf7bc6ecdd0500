package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	internal "github.com/ZanzyTHEbar/joblog/joblog"
	"github.com/ZanzyTHEbar/joblog/joblog/config"
	"github.com/ZanzyTHEbar/joblog/joblog/jobs"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
)

// InitApp builds the command tree. Command output goes to out; logs go to stderr.
func InitApp(out io.Writer) *cli.Command {
	app := &cli.Command{
		Name:  internal.DefaultAppName,
		Usage: "inspect and maintain memoized training jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "config file (default: ./config.yaml, then the user config dir)",
				Sources: cli.NewValueSourceChain(
					cli.EnvVar(internal.DefaultEnvPrefix + "_CONFIG"),
				),
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "storage target: local, file:<path>, mem://, postgres://..., libsql://...",
			},
			&cli.StringFlag{
				Name:  "database",
				Usage: "database name",
			},
			&cli.StringFlag{
				Name:    "collection",
				Aliases: []string{"c"},
				Usage:   "collection to operate on",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
	}

	app.Commands = append(app.Commands,
		listCommand(out),
		showCommand(out),
		historyCommand(out),
		clearCommand(out),
	)

	for _, cmd := range app.Commands {
		sort.Slice(cmd.Flags, func(i, j int) bool {
			return cmd.Flags[i].Names()[0] < cmd.Flags[j].Names()[0]
		})
	}

	return app
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("target") {
		cfg.Storage.Target = cmd.String("target")
	}
	if cmd.IsSet("database") {
		cfg.Storage.Database = cmd.String("database")
	}
	if cmd.IsSet("collection") {
		cfg.Storage.Collection = cmd.String("collection")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}

	return cfg, cfg.Validate()
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var w io.Writer = os.Stderr
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// openFactory loads configuration and opens the configured store.
func openFactory(ctx context.Context, cmd *cli.Command) (*jobs.Factory, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	f, err := jobs.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return f, nil
}
