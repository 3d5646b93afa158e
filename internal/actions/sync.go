package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/time/rate"

	"github.com/mxcd/showcaser/internal/configuration"
	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/reconcile"
	"github.com/mxcd/showcaser/internal/showcase"
)

var (
	ErrInvalidConfiguration = errors.New("configuration validation failed")
	ErrSkipped              = errors.New("repository is not mirrored")
)

const tokenRefreshSlack = 5 * time.Minute

// Version is stamped at build time.
var Version = "development"

type SyncOptions struct {
	ConfigPath string
	// Repository is owner/name or a repository URL.
	Repository string
	// Token authenticates as a user or installation instead of the app.
	Token string
	// InstallationID skips the installation lookup when set.
	InstallationID int64
	DryRun         bool
	OutputFormat   string
	ShowProgress   bool
	Out            io.Writer
}

// Sync mirrors a single repository outside of any webhook delivery.
func Sync(ctx context.Context, options *SyncOptions) error {
	source, err := github.ParseRepository(options.Repository)
	if err != nil {
		return err
	}

	config, err := configuration.LoadConfiguration(options.ConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return fmt.Errorf("configuration load error: %w", err)
	}
	if config.App.APIBaseURL == github.DefaultAPIBaseURL {
		config.App.APIBaseURL = github.APIBaseURL(options.Repository)
	}

	validationResult := validateForSync(config, options.Token != "")
	if !validationResult.Valid {
		for _, validationErr := range validationResult.Errors {
			log.Error().Str("field", validationErr.Field).Msg(validationErr.Message)
		}
		return ErrInvalidConfiguration
	}

	remote, err := newRemote(ctx, config, source, options)
	if err != nil {
		return err
	}
	return runSync(ctx, remote, config, source, options)
}

func validateForSync(config *configuration.Config, hasToken bool) *configuration.ValidationResult {
	if hasToken {
		return configuration.ValidateSync(config)
	}
	result := configuration.ValidateConfiguration(config)
	// the webhook secret and listener do not matter here
	filtered := &configuration.ValidationResult{Valid: true}
	for _, err := range result.Errors {
		if err.Field == "server.webhookSecret" || err.Field == "server.listenAddr" || err.Field == "server.homepageUrl" {
			continue
		}
		filtered.AddError(err.Field, err.Message)
	}
	return filtered
}

func newRemote(ctx context.Context, config *configuration.Config, source github.RepoRef, options *SyncOptions) (showcase.Remote, error) {
	if options.Token != "" {
		var clientOptions []github.ClientOption
		if config.Sync.WritesPerSecond > 0 {
			clientOptions = append(clientOptions, github.WithWriteLimiter(rate.NewLimiter(rate.Limit(config.Sync.WritesPerSecond), 1)))
		}
		return github.NewClient(config.App.APIBaseURL, options.Token, clientOptions...), nil
	}

	app, err := newApp(config)
	if err != nil {
		return nil, err
	}

	installationID := options.InstallationID
	if installationID == 0 {
		installationID, err = app.RepositoryInstallation(ctx, source)
		if err != nil {
			return nil, fmt.Errorf("app is not installed on %s: %w", source, err)
		}
	}
	log.Debug().Int64("installation", installationID).Msg("Using app installation")

	return showcase.AppClients(app)(ctx, installationID)
}

func newApp(config *configuration.Config) (*github.App, error) {
	key, err := config.App.ReadPrivateKey()
	if err != nil {
		return nil, err
	}
	return github.NewApp(config.App.ID, key, config.App.APIBaseURL,
		github.WithWritesPerSecond(config.Sync.WritesPerSecond),
		// a token handed to a run has to outlive it
		github.WithTokenRefreshMargin(config.Sync.RunTimeout+tokenRefreshSlack))
}

func newService(config *configuration.Config, clients showcase.ClientFactory) *showcase.Service {
	return showcase.NewService(clients, showcase.Options{
		Collect: config.Sync.CollectOptions(),
		Publish: config.Sync.PublishOptions(),
		Retry:   config.Sync.RetryPolicy(),
	})
}

func runSync(ctx context.Context, remote showcase.Remote, config *configuration.Config, source github.RepoRef, options *SyncOptions) error {
	service := newService(config, func(context.Context, int64) (showcase.Remote, error) {
		return remote, nil
	})

	mirrorOptions := showcase.MirrorOptions{DryRun: options.DryRun}
	out := output(options.Out)
	var bar *progressbar.ProgressBar
	// machine readable output stays clean
	if options.ShowProgress && !options.DryRun && options.OutputFormat == "table" {
		mirrorOptions.OnOperation = func(index, total int, op reconcile.Operation) {
			if bar == nil {
				bar = newProgressBar(out, total)
			}
			bar.Describe(fmt.Sprintf("%-6s %s", op.Kind, op.TargetPath))
			_ = bar.Set(index)
		}
	}

	log.Info().Str("repository", source.String()).Bool("dryRun", options.DryRun).Msg("Mirroring repository...")
	report, err := service.Mirror(ctx, remote, source, mirrorOptions)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(out)
	}

	if report != nil {
		if outErr := outputReport(out, report, options.OutputFormat); outErr != nil {
			log.Error().Err(outErr).Msg("Failed to output report")
		}
	}
	if err != nil {
		return err
	}
	if report.Status == showcase.StatusSkipped {
		return fmt.Errorf("%w: %s", ErrSkipped, report.SkipReason)
	}
	return nil
}

func newProgressBar(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Publishing:"),
		progressbar.OptionSetItsString("op"),
		progressbar.OptionShowIts(),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
