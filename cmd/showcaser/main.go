package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mxcd/showcaser/internal/actions"
	"github.com/mxcd/showcaser/internal/util"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var version = "development"

func main() {
	actions.Version = version

	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{},
		Usage:   "print only the version",
	}

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to a configuration file or directory (optional, environment variables work too)",
		Sources: cli.EnvVars("SHOWCASER_CONFIG"),
	}

	cmd := &cli.Command{
		Name:    "showcaser",
		Version: version,
		Usage:   "Mirror selected directories of repositories into a showcase repository",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "debug output",
				Sources: cli.EnvVars("SHOWCASER_VERBOSE"),
			},
			&cli.BoolFlag{
				Name:    "very-verbose",
				Aliases: []string{"vv"},
				Usage:   "trace output",
				Sources: cli.EnvVars("SHOWCASER_VERY_VERBOSE"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format: console, json",
				Value:   "console",
				Sources: cli.EnvVars("SHOWCASER_LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			return initCli(ctx, cmd)
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Receive GitHub App webhooks and mirror merged pull requests",
				Flags:  []cli.Flag{configFlag},
				Action: serveCommand,
			},
			{
				Name:  "sync",
				Usage: "Mirror one repository now",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:     "repo",
						Aliases:  []string{"r"},
						Usage:    "Source repository as owner/name or URL",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "token",
						Usage:   "Use this token instead of authenticating as the app",
						Sources: cli.EnvVars("GITHUB_TOKEN"),
					},
					&cli.Int64Flag{
						Name:  "installation",
						Usage: "App installation id, looked up from the repository when unset",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Only print the plan",
					},
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output format: table, json, yaml",
						Value: "table",
					},
					&cli.BoolFlag{
						Name:  "progress",
						Usage: "Show a progress bar while publishing",
						Value: true,
					},
				},
				Action: syncCommand,
			},
			{
				Name:  "validate",
				Usage: "Validate configuration",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "output",
						Usage: "Output format: table, json, yaml, sarif",
						Value: "table",
					},
					&cli.BoolFlag{
						Name:  "sync-only",
						Usage: "Only check what a token based sync needs",
					},
				},
				Action: validateCommand,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("command terminated with error")
	}
}

func initCli(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	godotenv.Load()
	util.SetCliLoggerDefaults(cmd.String("log-format"))
	util.SetCliLogLevel(cmd)
	log.Trace().Msg("Trace logging enabled")
	log.Debug().Msg("Debug logging enabled")

	return ctx, nil
}

func exitError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, actions.ErrInvalidConfiguration):
		return cli.Exit("Configuration validation failed", 3)
	case errors.Is(err, actions.ErrSkipped):
		return cli.Exit(err.Error(), 2)
	default:
		return cli.Exit(err.Error(), 1)
	}
}

func serveCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exitError(actions.Serve(ctx, &actions.ServeOptions{
		ConfigPath: cmd.String("config"),
	}))
}

func syncCommand(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return exitError(actions.Sync(ctx, &actions.SyncOptions{
		ConfigPath:     cmd.String("config"),
		Repository:     cmd.String("repo"),
		Token:          cmd.String("token"),
		InstallationID: cmd.Int64("installation"),
		DryRun:         cmd.Bool("dry-run"),
		OutputFormat:   cmd.String("output"),
		ShowProgress:   cmd.Bool("progress"),
	}))
}

func validateCommand(ctx context.Context, cmd *cli.Command) error {
	return exitError(actions.Validate(&actions.ValidateOptions{
		ConfigPath:   cmd.String("config"),
		OutputFormat: cmd.String("output"),
		SyncOnly:     cmd.Bool("sync-only"),
	}))
}
