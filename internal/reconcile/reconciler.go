// Package reconcile computes the mutations that make a showcase namespace
// match the files of its source repository.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/manifest"
	"github.com/mxcd/showcaser/internal/retry"
	"github.com/mxcd/showcaser/internal/tree"
)

// ContentFetcher downloads the bytes behind a file's content URL.
type ContentFetcher interface {
	GetContent(ctx context.Context, url string) ([]byte, error)
}

// Input is everything one diff needs. Target paths carry the namespace
// prefix; source paths do not. Eligibility of the source repository must
// already have been checked.
type Input struct {
	SourceFiles    []tree.FileEntry
	SourceRepoName string
	TargetFiles    []tree.FileEntry
	ExcludedPaths  []string
}

// Reconciler diffs a source tree against the namespace it owns in the target.
type Reconciler struct {
	fetcher ContentFetcher
	retry   retry.Policy
}

// New creates a reconciler fetching source content through fetcher.
func New(fetcher ContentFetcher, policy retry.Policy) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		retry:   policy,
	}
}

// Diff builds the plan. Puts come first in source path order, then deletes in
// target path order. Target files outside the namespace are never touched.
func (r *Reconciler) Diff(ctx context.Context, in Input) (*Plan, error) {
	if err := validateRepoName(in.SourceRepoName); err != nil {
		return nil, err
	}
	prefix := in.SourceRepoName + "/"

	targets := make(map[string]tree.FileEntry, len(in.TargetFiles))
	for _, f := range in.TargetFiles {
		if !tree.IsNormalized(f.Path) || f.Path == "" {
			return nil, &ReconcileError{Path: f.Path, Reason: "target path is not normalized"}
		}
		targets[f.Path] = f
	}

	excluded := make(map[string]bool, len(in.ExcludedPaths))
	for _, p := range in.ExcludedPaths {
		normalized, err := tree.NormalizePath(p)
		if err != nil {
			return nil, &ReconcileError{Path: p, Reason: err.Error()}
		}
		excluded[normalized] = true
	}

	sources := append([]tree.FileEntry(nil), in.SourceFiles...)
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].Path < sources[j].Path
	})

	logger := zerolog.Ctx(ctx)
	plan := &Plan{Namespace: in.SourceRepoName}
	mirrored := make(map[string]bool, len(sources))

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !tree.IsNormalized(src.Path) || src.Path == "" {
			return nil, &ReconcileError{Path: src.Path, Reason: "source path is not normalized"}
		}
		if mirrored[src.Path] {
			return nil, &ReconcileError{Path: src.Path, Reason: "duplicate source path"}
		}
		if excluded[src.Path] || tree.Base(src.Path) == manifest.FileName {
			logger.Trace().Str("path", src.Path).Msg("excluded from mirroring")
			continue
		}
		mirrored[src.Path] = true

		targetPath := prefix + src.Path
		existing, exists := targets[targetPath]
		if exists && existing.VersionID != "" && existing.VersionID == src.VersionID {
			plan.Unchanged = append(plan.Unchanged, targetPath)
			continue
		}

		content, err := r.fetch(ctx, src)
		if err != nil {
			return nil, err
		}

		op := Operation{
			Kind:       KindPut,
			TargetPath: targetPath,
			SourcePath: src.Path,
			Content:    content,
		}
		if exists {
			op.PriorVersionID = existing.VersionID
		}
		plan.Operations = append(plan.Operations, op)
	}

	stale := make([]tree.FileEntry, 0)
	for p, f := range targets {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if mirrored[strings.TrimPrefix(p, prefix)] {
			continue
		}
		stale = append(stale, f)
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].Path < stale[j].Path
	})
	for _, f := range stale {
		plan.Operations = append(plan.Operations, Operation{
			Kind:           KindDelete,
			TargetPath:     f.Path,
			PriorVersionID: f.VersionID,
		})
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	logger.Debug().
		Str("namespace", plan.Namespace).
		Int("puts", plan.Puts()).
		Int("deletes", plan.Deletes()).
		Int("unchanged", len(plan.Unchanged)).
		Msg("computed reconciliation plan")

	return plan, nil
}

func (r *Reconciler) fetch(ctx context.Context, src tree.FileEntry) ([]byte, error) {
	var content []byte
	err := r.retry.Do(ctx, github.IsTransient, func() error {
		var err error
		content, err = r.fetcher.GetContent(ctx, src.ContentURL)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch content of %s: %w", src.Path, err)
	}
	return content, nil
}
