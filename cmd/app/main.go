package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/DataConservancy/dcs-packaging-tool-sub000/internal"
	pkgconfig "github.com/DataConservancy/dcs-packaging-tool-sub000/pkg/config"
)

var version = "dev"

// loadConfig reads the configuration named by --config. A missing file is
// only an error when the flag was given explicitly.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	load := pkgconfig.LoadOptional[internal.Config]
	if cmd.IsSet("config") {
		load = pkgconfig.Load[internal.Config]
	}
	if err := load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := packageArg(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithPackage(root),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	root, err := packageArg(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx,
		internal.WithConfig(cfg),
		internal.WithPackage(root),
		internal.WithVersion(version))
}

func main() {
	stateFlag := &cli.StringFlag{
		Name:     "state",
		Aliases:  []string{"s"},
		Usage:    "Path to the SQLite state file",
		Required: true,
	}

	cmd := &cli.Command{
		Name:    "ipm",
		Usage:   "Describe a directory of files as a typed package against a domain profile",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "scan",
				Usage:     "Ingest a directory and print its tree as JSON",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "select",
						Usage: "JSONPath applied to the tree, e.g. $.nodes[?(@.ignored == true)].file.name",
					},
					&cli.BoolFlag{
						Name:  "typed",
						Usage: "Assign node types against the default profile before printing",
					},
				},
				Action: scan,
			},
			{
				Name:   "diff",
				Usage:  "Show what a refresh of a saved package would merge",
				Flags:  []cli.Flag{stateFlag},
				Action: diff,
			},
			{
				Name:      "save",
				Usage:     "Ingest and type a directory, then write its state",
				ArgsUsage: "<dir>",
				Flags:     []cli.Flag{stateFlag},
				Action:    save,
			},
			{
				Name:   "show",
				Usage:  "Print the tree and constraint violations of a saved package",
				Flags:  []cli.Flag{stateFlag},
				Action: show,
			},
			{
				Name:  "export",
				Usage: "Write a saved package as N-Triples",
				Flags: []cli.Flag{
					stateFlag,
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file, - for stdout",
						Value:   "-",
					},
				},
				Action: export,
			},
			{
				Name:      "serve",
				Usage:     "Serve the package editing API over HTTP",
				ArgsUsage: "<dir>",
				Action:    serve,
			},
			{
				Name:      "mcp",
				Usage:     "Serve the package editing tools over MCP on stdio",
				ArgsUsage: "<dir>",
				Action:    serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
