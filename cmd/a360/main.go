package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ez3davatars/A360-Aging-UI/internal"
	pkgconfig "github.com/ez3davatars/A360-Aging-UI/pkg/config"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// run is the root action: the watcher daemon.
func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("daemon run error: %w", err)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:   "a360",
		Usage:  "Ingestion watcher and dataset tooling for the A360 face-aging pipeline",
		Action: run,
		Flags: []cli.Flag{
			configFlag(),
		},
		Commands: []*cli.Command{
			subjectCommand(),
			manifestCommand(),
			exportCommand(),
			datasetCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// configFlag is attached to every command so operator subcommands work
// without inheriting root flags.
func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Aliases:     []string{"c"},
		Usage:       "Path to config file",
		DefaultText: "a360.yaml",
		Sources:     cli.EnvVars(pkgconfig.EnvPathVar),
	}
}

// loadConfig resolves and parses the config file for the current command.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	path, err := pkgconfig.FindPath(cmd.String("config"), "a360.yaml", "config/a360.yaml")
	if err != nil {
		return nil, err
	}

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}
