// Package publish applies a reconciliation plan through a staging branch that
// is merged into the target's default branch.
package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/reconcile"
	"github.com/mxcd/showcaser/internal/retry"
)

const (
	DefaultBranch         = "showcase-update"
	DefaultCommitMessage  = "Showcaser Auto Commit: Updating Showcased Files"
	DefaultDeleteMessage  = "file removal is automatically reflected from changes to source"
	DefaultMergeMessage   = "Showcaser: merge showcase-update"
	DefaultCleanupTimeout = 30 * time.Second
)

type State string

const (
	StateIdle            State = "idle"
	StateBranchCreating  State = "branchCreating"
	StateApplying        State = "applying"
	StateAborting        State = "aborting"
	StateMerging         State = "merging"
	StateBranchDeleting  State = "branchDeleting"
	StateDone            State = "done"
	StateDoneWithWarning State = "doneWithWarning"
	StateAborted         State = "aborted"
)

// Mutator is the part of the remote the publisher drives.
type Mutator interface {
	GetRepository(ctx context.Context, repo github.RepoRef) (*github.Repository, error)
	GetBranchHead(ctx context.Context, repo github.RepoRef, branch string) (string, error)
	CreateRef(ctx context.Context, repo github.RepoRef, branch, sha string) error
	DeleteRef(ctx context.Context, repo github.RepoRef, branch string) error
	PutFile(ctx context.Context, repo github.RepoRef, path string, opts github.FileOptions) error
	DeleteFile(ctx context.Context, repo github.RepoRef, path string, opts github.FileOptions) error
	Merge(ctx context.Context, repo github.RepoRef, base, head, message string) (*github.MergeResult, error)
}

// Options configures the staging branch, commit messages and retries.
type Options struct {
	Branch         string
	CommitMessage  string
	DeleteMessage  string
	MergeMessage   string
	Retry          retry.Policy
	CleanupTimeout time.Duration
	// OnOperation is called after each applied operation with its 1-based index.
	OnOperation func(index, total int, op reconcile.Operation)
}

func DefaultOptions() Options {
	return Options{
		Branch:         DefaultBranch,
		CommitMessage:  DefaultCommitMessage,
		DeleteMessage:  DefaultDeleteMessage,
		MergeMessage:   DefaultMergeMessage,
		Retry:          retry.DefaultPolicy(),
		CleanupTimeout: DefaultCleanupTimeout,
	}
}

// Target is the repository to publish into. An empty BaseBranch is resolved
// to the repository's default branch.
type Target struct {
	Repo       github.RepoRef
	BaseBranch string
}

// Result describes how far a publish got.
type Result struct {
	State      State  `json:"state" yaml:"state"`
	Branch     string `json:"branch" yaml:"branch"`
	BaseBranch string `json:"baseBranch,omitempty" yaml:"baseBranch,omitempty"`
	Merged     bool   `json:"merged" yaml:"merged"`
	MergeSHA   string `json:"mergeSha,omitempty" yaml:"mergeSha,omitempty"`
	Applied    int    `json:"applied" yaml:"applied"`
	NoChanges  bool   `json:"noChanges,omitempty" yaml:"noChanges,omitempty"`
	// Warning is set when the mirror succeeded but the staging branch stayed behind.
	Warning error `json:"-" yaml:"-"`
}

// Publisher applies plans through a staging branch.
type Publisher struct {
	client Mutator
	opts   Options
}

// New creates a publisher writing through client.
func New(client Mutator, opts Options) *Publisher {
	defaults := DefaultOptions()
	if opts.Branch == "" {
		opts.Branch = defaults.Branch
	}
	if opts.CommitMessage == "" {
		opts.CommitMessage = defaults.CommitMessage
	}
	if opts.DeleteMessage == "" {
		opts.DeleteMessage = defaults.DeleteMessage
	}
	if opts.MergeMessage == "" {
		opts.MergeMessage = defaults.MergeMessage
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = defaults.CleanupTimeout
	}
	return &Publisher{client: client, opts: opts}
}

type run struct {
	*Publisher
	target Target
	result *Result
	logger *zerolog.Logger
}

func (r *run) transition(to State) {
	r.logger.Debug().
		Str("from", string(r.result.State)).
		Str("to", string(to)).
		Msg("publish state change")
	r.result.State = to
}

// Publish applies plan to target. An empty plan touches nothing. The returned
// Result is non-nil even on error and reports how far the run got. Operations
// applied before a failure are not rolled back.
func (p *Publisher) Publish(ctx context.Context, target Target, plan *reconcile.Plan) (*Result, error) {
	r := &run{
		Publisher: p,
		target:    target,
		result:    &Result{State: StateIdle, Branch: p.opts.Branch, BaseBranch: target.BaseBranch},
		logger:    zerolog.Ctx(ctx),
	}

	if plan == nil || plan.IsEmpty() {
		r.result.State = StateDone
		r.result.NoChanges = true
		r.logger.Info().Str("target", target.Repo.String()).Msg("showcase already up to date")
		return r.result, nil
	}
	if err := plan.Validate(); err != nil {
		r.result.State = StateAborted
		return r.result, err
	}

	r.transition(StateBranchCreating)
	if err := r.createBranch(ctx); err != nil {
		r.transition(StateAborted)
		return r.result, &PublishError{Stage: StageBranchCreate, Err: err}
	}

	r.transition(StateApplying)
	total := len(plan.Operations)
	for i := range plan.Operations {
		op := plan.Operations[i]
		if err := ctx.Err(); err != nil {
			return r.result, r.abort(ctx, StageApply, &op, err)
		}
		if err := r.apply(ctx, op); err != nil {
			return r.result, r.abort(ctx, StageApply, &op, err)
		}
		r.result.Applied++
		if p.opts.OnOperation != nil {
			p.opts.OnOperation(i+1, total, op)
		}
	}

	r.transition(StateMerging)
	merge, err := r.merge(ctx)
	if err != nil {
		return r.result, r.abort(ctx, StageMerge, nil, err)
	}
	r.result.Merged = merge.Merged
	r.result.MergeSHA = merge.SHA

	r.transition(StateBranchDeleting)
	if err := r.deleteBranch(ctx); err != nil {
		r.result.Warning = &PublishError{Stage: StageBranchDelete, Err: err}
		r.transition(StateDoneWithWarning)
		r.logger.Warn().
			Err(err).
			Str("target", target.Repo.String()).
			Str("branch", p.opts.Branch).
			Msg("mirrored, but failed to delete staging branch")
		return r.result, nil
	}

	r.transition(StateDone)
	r.logger.Info().
		Str("target", target.Repo.String()).
		Str("base", r.result.BaseBranch).
		Int("applied", r.result.Applied).
		Bool("merged", r.result.Merged).
		Str("sha", r.result.MergeSHA).
		Msg("published showcase")

	return r.result, nil
}

// createBranch points the staging branch at the base tip. A staging branch
// left behind by an earlier run is deleted and creation tried once more.
func (r *run) createBranch(ctx context.Context) error {
	if r.target.BaseBranch == "" {
		var repository *github.Repository
		err := r.opts.Retry.Do(ctx, github.IsTransient, func() error {
			var err error
			repository, err = r.client.GetRepository(ctx, r.target.Repo)
			return err
		})
		if err != nil {
			return err
		}
		r.target.BaseBranch = repository.DefaultBranch
		r.result.BaseBranch = repository.DefaultBranch
	}

	var sha string
	err := r.opts.Retry.Do(ctx, github.IsTransient, func() error {
		var err error
		sha, err = r.client.GetBranchHead(ctx, r.target.Repo, r.target.BaseBranch)
		return err
	})
	if err != nil {
		return err
	}

	err = r.client.CreateRef(ctx, r.target.Repo, r.opts.Branch, sha)
	if !errors.Is(err, github.ErrConflict) {
		return err
	}

	r.logger.Warn().
		Str("target", r.target.Repo.String()).
		Str("branch", r.opts.Branch).
		Msg("removing stale staging branch")
	if err := r.client.DeleteRef(ctx, r.target.Repo, r.opts.Branch); err != nil && !errors.Is(err, github.ErrNotFound) {
		return fmt.Errorf("failed to remove stale staging branch: %w", err)
	}
	return r.client.CreateRef(ctx, r.target.Repo, r.opts.Branch, sha)
}

// apply runs one operation. Operations carrying a prior version are safe to
// repeat and get one retry on transient errors. Creates get none.
func (r *run) apply(ctx context.Context, op reconcile.Operation) error {
	var mutate func() error
	switch op.Kind {
	case reconcile.KindPut:
		mutate = func() error {
			return r.client.PutFile(ctx, r.target.Repo, op.TargetPath, github.FileOptions{
				Message: r.opts.CommitMessage,
				Content: op.Content,
				SHA:     op.PriorVersionID,
				Branch:  r.opts.Branch,
			})
		}
	case reconcile.KindDelete:
		mutate = func() error {
			return r.client.DeleteFile(ctx, r.target.Repo, op.TargetPath, github.FileOptions{
				Message: r.opts.DeleteMessage,
				SHA:     op.PriorVersionID,
				Branch:  r.opts.Branch,
			})
		}
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	var err error
	if op.IsCreate() {
		err = mutate()
	} else {
		err = r.opts.Retry.AtMost(1).Do(ctx, github.IsTransient, mutate)
	}

	if errors.Is(err, github.ErrConflict) {
		return &ConflictError{Path: op.TargetPath, VersionID: op.PriorVersionID, Err: err}
	}
	return err
}

// merge is repeatable: merging an already merged head is a no-op.
func (r *run) merge(ctx context.Context) (*github.MergeResult, error) {
	var result *github.MergeResult
	err := r.opts.Retry.AtMost(1).Do(ctx, github.IsTransient, func() error {
		var err error
		result, err = r.client.Merge(ctx, r.target.Repo, r.target.BaseBranch, r.opts.Branch, r.opts.MergeMessage)
		return err
	})
	return result, err
}

// deleteBranch removes the staging branch on a context that survives the
// cancellation of ctx, bounded by the cleanup timeout.
func (r *run) deleteBranch(ctx context.Context) error {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.CleanupTimeout)
	defer cancel()

	err := r.opts.Retry.Do(cleanupCtx, github.IsTransient, func() error {
		return r.client.DeleteRef(cleanupCtx, r.target.Repo, r.opts.Branch)
	})
	if errors.Is(err, github.ErrNotFound) {
		return nil
	}
	return err
}

func (r *run) abort(ctx context.Context, stage Stage, op *reconcile.Operation, cause error) error {
	r.transition(StateAborting)

	publishErr := &PublishError{Stage: stage, Operation: op, Err: cause}
	if err := r.deleteBranch(ctx); err != nil {
		publishErr.CleanupErr = err
		r.logger.Error().
			Err(err).
			Str("target", r.target.Repo.String()).
			Str("branch", r.opts.Branch).
			Msg("failed to delete staging branch after abort")
	}

	r.transition(StateAborted)
	r.logger.Error().
		Err(cause).
		Str("target", r.target.Repo.String()).
		Str("stage", string(stage)).
		Int("applied", r.result.Applied).
		Msg("publish aborted")

	return publishErr
}
