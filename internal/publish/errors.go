package publish

import (
	"fmt"

	"github.com/mxcd/showcaser/internal/reconcile"
)

// Stage names the protocol step a publish failed in.
type Stage string

const (
	StageBranchCreate Stage = "branchCreate"
	StageApply        Stage = "apply"
	StageMerge        Stage = "merge"
	StageBranchDelete Stage = "branchDelete"
)

// PublishError is returned when a publish stops early. Every stage after
// branch creation may have left mutations on the staging branch. CleanupErr
// is set when the staging branch could not be removed afterwards.
type PublishError struct {
	Stage      Stage
	Operation  *reconcile.Operation
	Err        error
	CleanupErr error
}

func (e *PublishError) Error() string {
	msg := fmt.Sprintf("publish failed at %s", e.Stage)
	if e.Operation != nil {
		msg += fmt.Sprintf(" (%s)", e.Operation)
	}
	msg += fmt.Sprintf(": %v", e.Err)
	if e.CleanupErr != nil {
		msg += fmt.Sprintf(" (cleanup failed: %v)", e.CleanupErr)
	}
	return msg
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConflictError is an optimistic concurrency failure: the target file no
// longer has the version the plan was built against. It is never retried; the
// next run rebuilds the plan from fresh listings.
type ConflictError struct {
	Path      string
	VersionID string
	Err       error
}

func (e *ConflictError) Error() string {
	if e.VersionID == "" {
		return fmt.Sprintf("conflict creating %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("conflict on %s at version %s: %v", e.Path, e.VersionID, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}
