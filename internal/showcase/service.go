// Package showcase mirrors opted-in repositories into their showcase
// repository when pull requests are merged.
package showcase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/manifest"
	"github.com/mxcd/showcaser/internal/publish"
	"github.com/mxcd/showcaser/internal/reconcile"
	"github.com/mxcd/showcaser/internal/retry"
	"github.com/mxcd/showcaser/internal/tree"
)

// Remote is the GitHub surface one run needs, scoped to an installation.
type Remote interface {
	tree.Lister
	reconcile.ContentFetcher
	publish.Mutator
	GetFile(ctx context.Context, repo github.RepoRef, path, ref string) ([]byte, error)
	CreateComment(ctx context.Context, repo github.RepoRef, number int, body string) error
	CreateIssue(ctx context.Context, repo github.RepoRef, title, body string) (*github.Issue, error)
	CloseIssue(ctx context.Context, repo github.RepoRef, number int) error
}

// ClientFactory returns a Remote acting as the given installation.
type ClientFactory func(ctx context.Context, installationID int64) (Remote, error)

// AppClients mints installation clients from a GitHub App.
func AppClients(app *github.App) ClientFactory {
	return func(ctx context.Context, installationID int64) (Remote, error) {
		client, err := app.InstallationClient(ctx, installationID)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Options configures the collector, publisher and read retries of a Service.
type Options struct {
	Collect tree.Options
	Publish publish.Options
	// Retry covers reads outside the collector: repository metadata and the manifest.
	Retry retry.Policy
}

type Service struct {
	clients ClientFactory
	opts    Options
	locks   *KeyedMutex
}

// NewService creates a service minting installation clients through clients.
func NewService(clients ClientFactory, opts Options) *Service {
	return &Service{
		clients: clients,
		opts:    opts,
		locks:   NewKeyedMutex(),
	}
}

type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusPlanned   Status = "planned"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

// Report describes what one mirror run did.
type Report struct {
	Source     github.RepoRef   `json:"source" yaml:"source"`
	Target     github.RepoRef   `json:"target,omitempty" yaml:"target,omitempty"`
	Status     Status           `json:"status" yaml:"status"`
	SkipReason string           `json:"skipReason,omitempty" yaml:"skipReason,omitempty"`
	Manifest   *manifest.Config `json:"manifest,omitempty" yaml:"manifest,omitempty"`
	Plan       *reconcile.Plan  `json:"plan,omitempty" yaml:"plan,omitempty"`
	Result     *publish.Result  `json:"result,omitempty" yaml:"result,omitempty"`
}

type MirrorOptions struct {
	// DryRun stops after planning.
	DryRun bool
	// OnOperation overrides the publish progress callback for this run.
	OnOperation func(index, total int, op reconcile.Operation)
}

func (s *Service) skip(ctx context.Context, report *Report, reason string) (*Report, error) {
	report.Status = StatusSkipped
	report.SkipReason = reason
	zerolog.Ctx(ctx).Info().
		Str("source", report.Source.String()).
		Str("reason", reason).
		Msg("skipping mirror")
	return report, nil
}

// Mirror makes the showcase namespace of source match its included files.
// The report is returned even when err is non-nil.
func (s *Service) Mirror(ctx context.Context, client Remote, source github.RepoRef, opts MirrorOptions) (*Report, error) {
	report := &Report{Source: source}

	sourceRepo, err := s.repository(ctx, client, source)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}

	config, err := s.loadManifest(ctx, client, source, sourceRepo.DefaultBranch)
	switch {
	case errors.Is(err, github.ErrNotFound):
		return s.skip(ctx, report, fmt.Sprintf("no %s manifest", manifest.FileName))
	case err != nil:
		var manifestErr *manifest.ManifestError
		if errors.As(err, &manifestErr) {
			report.Status = StatusSkipped
			report.SkipReason = manifestErr.Error()
		} else {
			report.Status = StatusFailed
		}
		return report, err
	}
	report.Manifest = config

	if !config.Eligible() {
		return s.skip(ctx, report, "showcasing is not enabled")
	}

	target := github.RepoRef{Owner: source.Owner, Name: config.ShowcaseRepo}
	report.Target = target
	if strings.EqualFold(target.Name, source.Name) {
		return s.skip(ctx, report, "showcase repository is the source repository")
	}

	logger := zerolog.Ctx(ctx).With().
		Str("source", source.String()).
		Str("target", target.String()).
		Logger()
	ctx = logger.WithContext(ctx)

	unlock, err := s.locks.Lock(ctx, target.Key())
	if err != nil {
		report.Status = StatusFailed
		return report, fmt.Errorf("waiting for %s: %w", target, err)
	}
	defer unlock()

	plan, targetBranch, err := s.plan(ctx, client, source, sourceRepo.DefaultBranch, target, config)
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}
	report.Plan = plan

	if opts.DryRun {
		report.Status = StatusPlanned
		logger.Info().
			Int("puts", plan.Puts()).
			Int("deletes", plan.Deletes()).
			Msg("dry run, not publishing")
		return report, nil
	}

	publishOpts := s.opts.Publish
	if opts.OnOperation != nil {
		publishOpts.OnOperation = opts.OnOperation
	}
	result, err := publish.New(client, publishOpts).Publish(ctx, publish.Target{Repo: target, BaseBranch: targetBranch}, plan)
	report.Result = result
	if err != nil {
		report.Status = StatusFailed
		return report, err
	}

	report.Status = StatusPublished
	return report, nil
}

// plan collects both trees and diffs them. It returns the target's default
// branch alongside the plan.
func (s *Service) plan(ctx context.Context, client Remote, source github.RepoRef, sourceRef string, target github.RepoRef, config *manifest.Config) (*reconcile.Plan, string, error) {
	targetRepo, err := s.repository(ctx, client, target)
	if err != nil {
		return nil, "", err
	}

	var tip string
	err = s.opts.Retry.Do(ctx, github.IsTransient, func() error {
		var err error
		tip, err = client.GetBranchHead(ctx, target, targetRepo.DefaultBranch)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve %s@%s: %w", target, targetRepo.DefaultBranch, err)
	}

	collector, err := tree.NewCollector(client, s.opts.Collect)
	if err != nil {
		return nil, "", err
	}

	var sourceFiles, targetFiles []tree.FileEntry
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sourceFiles, err = collector.Collect(gctx, tree.Request{
			Repo:  source,
			Ref:   sourceRef,
			Roots: config.IncludedDirectories,
		})
		return err
	})
	g.Go(func() error {
		var err error
		targetFiles, err = collector.Collect(gctx, tree.Request{
			Repo:               target,
			Ref:                tip,
			Roots:              []string{source.Name},
			IgnoreMissingRoots: true,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	plan, err := reconcile.New(client, s.opts.Retry).Diff(ctx, reconcile.Input{
		SourceFiles:    sourceFiles,
		SourceRepoName: source.Name,
		TargetFiles:    targetFiles,
		ExcludedPaths:  config.ExcludedFiles,
	})
	if err != nil {
		return nil, "", err
	}
	return plan, targetRepo.DefaultBranch, nil
}

func (s *Service) repository(ctx context.Context, client Remote, repo github.RepoRef) (*github.Repository, error) {
	var repository *github.Repository
	err := s.opts.Retry.Do(ctx, github.IsTransient, func() error {
		var err error
		repository, err = client.GetRepository(ctx, repo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return repository, nil
}

// loadManifest reads and parses .showcase from ref. A missing manifest is
// reported as github.ErrNotFound.
func (s *Service) loadManifest(ctx context.Context, client Remote, repo github.RepoRef, ref string) (*manifest.Config, error) {
	var data []byte
	err := s.opts.Retry.Do(ctx, github.IsTransient, func() error {
		var err error
		data, err = client.GetFile(ctx, repo, manifest.FileName, ref)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of %s: %w", manifest.FileName, repo, err)
	}
	return manifest.Parse(data)
}

// Manifest loads and validates the manifest of repo from its default branch.
func (s *Service) Manifest(ctx context.Context, client Remote, repo github.RepoRef) (*manifest.Config, error) {
	repository, err := s.repository(ctx, client, repo)
	if err != nil {
		return nil, err
	}
	return s.loadManifest(ctx, client, repo, repository.DefaultBranch)
}
