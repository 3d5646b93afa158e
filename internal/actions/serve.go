package actions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mxcd/showcaser/internal/configuration"
	"github.com/mxcd/showcaser/internal/showcase"
	"github.com/mxcd/showcaser/internal/webhook"
)

type ServeOptions struct {
	ConfigPath string
}

// Serve runs the webhook receiver until ctx is cancelled.
func Serve(ctx context.Context, options *ServeOptions) error {
	config, err := configuration.LoadConfiguration(options.ConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return fmt.Errorf("configuration load error: %w", err)
	}

	validationResult := configuration.ValidateConfiguration(config)
	if !validationResult.Valid {
		for _, validationErr := range validationResult.Errors {
			log.Error().Str("field", validationErr.Field).Msg(validationErr.Message)
		}
		return ErrInvalidConfiguration
	}

	app, err := newApp(config)
	if err != nil {
		return err
	}

	server := newServer(config, showcase.AppClients(app))
	log.Info().
		Int64("app", config.App.ID).
		Str("api", config.App.APIBaseURL).
		Str("version", Version).
		Msg("Starting showcaser")
	return server.Start(ctx)
}

func newServer(config *configuration.Config, clients showcase.ClientFactory) *webhook.Server {
	router := webhook.NewRouter()
	newService(config, clients).Register(router)

	return webhook.NewServer(router, webhook.Options{
		ListenAddr:  config.Server.ListenAddr,
		Secret:      []byte(config.Server.WebhookSecret),
		HomepageURL: config.Server.HomepageURL,
		RunTimeout:  config.Sync.RunTimeout,
	})
}
