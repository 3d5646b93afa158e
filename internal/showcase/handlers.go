package showcase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/webhook"
)

const (
	welcomeTitle = "Thanks for installing me"
	welcomeBody  = "You're the best! @%s"
	openedBody   = "When you merge this pull request, your changes will be automatically reflected across your linked showcase repository, %s"
)

// Register wires the service into router.
func (s *Service) Register(router *webhook.Router) {
	router.Register("pull_request", "closed", s.HandlePullRequestClosed)
	router.Register("pull_request", "opened", s.HandlePullRequestOpened)
	router.Register("installation", "created", s.HandleInstallationCreated)
}

// HandlePullRequestClosed mirrors the repository of a merged pull request.
func (s *Service) HandlePullRequestClosed(ctx context.Context, event webhook.Event) error {
	var payload webhook.PullRequestEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	source := payload.Repository.Ref()
	logger := zerolog.Ctx(ctx).With().
		Str("repo", source.String()).
		Int("pr", payload.Number).
		Logger()
	ctx = logger.WithContext(ctx)

	if !payload.PullRequest.Merged {
		logger.Debug().Msg("pull request closed without merge")
		return nil
	}

	client, err := s.clients(ctx, payload.Installation.ID)
	if err != nil {
		return fmt.Errorf("failed to authenticate installation %d: %w", payload.Installation.ID, err)
	}

	report, err := s.Mirror(ctx, client, source, MirrorOptions{})
	if err != nil {
		return err
	}
	if report.Status == StatusPublished && report.Result != nil {
		entry := logger.Info().
			Str("target", report.Target.String()).
			Int("applied", report.Result.Applied).
			Bool("merged", report.Result.Merged)
		if report.Result.Warning != nil {
			entry = entry.AnErr("warning", report.Result.Warning)
		}
		entry.Msg("showcase updated")
	}
	return nil
}

// HandlePullRequestOpened tells the author where the change will be mirrored.
func (s *Service) HandlePullRequestOpened(ctx context.Context, event webhook.Event) error {
	var payload webhook.PullRequestEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}
	source := payload.Repository.Ref()

	client, err := s.clients(ctx, payload.Installation.ID)
	if err != nil {
		return fmt.Errorf("failed to authenticate installation %d: %w", payload.Installation.ID, err)
	}

	config, err := s.Manifest(ctx, client, source)
	if errors.Is(err, github.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !config.Eligible() {
		return nil
	}

	body := fmt.Sprintf(openedBody, config.ShowcaseRepo)
	if err := client.CreateComment(ctx, source, payload.Number, body); err != nil {
		return fmt.Errorf("failed to comment on %s#%d: %w", source, payload.Number, err)
	}
	return nil
}

// HandleInstallationCreated greets every repository the app was installed on
// with an issue that is closed right away.
func (s *Service) HandleInstallationCreated(ctx context.Context, event webhook.Event) error {
	var payload webhook.InstallationEvent
	if err := event.Decode(&payload); err != nil {
		return err
	}

	client, err := s.clients(ctx, payload.Installation.ID)
	if err != nil {
		return fmt.Errorf("failed to authenticate installation %d: %w", payload.Installation.ID, err)
	}

	var errs []error
	for _, r := range payload.Repositories {
		repo, err := github.ParseRepository(r.FullName)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		issue, err := client.CreateIssue(ctx, repo, welcomeTitle, fmt.Sprintf(welcomeBody, payload.Sender.Login))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to open welcome issue in %s: %w", repo, err))
			continue
		}
		if err := client.CloseIssue(ctx, repo, issue.Number); err != nil {
			errs = append(errs, fmt.Errorf("failed to close welcome issue in %s: %w", repo, err))
		}
	}
	return errors.Join(errs...)
}
