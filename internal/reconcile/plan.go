package reconcile

import (
	"fmt"
	"strings"

	"github.com/mxcd/showcaser/internal/tree"
)

type Kind string

const (
	KindPut    Kind = "put"
	KindDelete Kind = "delete"
)

// Operation is one mutation of the target repository.
type Operation struct {
	Kind       Kind   `json:"kind" yaml:"kind"`
	TargetPath string `json:"targetPath" yaml:"targetPath"`
	SourcePath string `json:"sourcePath,omitempty" yaml:"sourcePath,omitempty"`
	// Content is only set for puts.
	Content []byte `json:"-" yaml:"-"`
	// PriorVersionID is the version being replaced or deleted. A put without
	// one creates the file.
	PriorVersionID string `json:"priorVersionId,omitempty" yaml:"priorVersionId,omitempty"`
}

// IsCreate reports whether op creates a file that does not exist yet.
func (op Operation) IsCreate() bool {
	return op.Kind == KindPut && op.PriorVersionID == ""
}

func (op Operation) String() string {
	if op.IsCreate() {
		return fmt.Sprintf("create %s", op.TargetPath)
	}
	return fmt.Sprintf("%s %s@%s", op.Kind, op.TargetPath, op.PriorVersionID)
}

// Plan is the complete, ordered set of mutations for one namespace. It is
// fully built before anything is applied.
type Plan struct {
	Namespace  string      `json:"namespace" yaml:"namespace"`
	Operations []Operation `json:"operations" yaml:"operations"`
	// Unchanged lists target paths whose content already matches the source.
	Unchanged []string `json:"unchanged,omitempty" yaml:"unchanged,omitempty"`
}

func (p *Plan) Puts() int {
	return p.count(KindPut)
}

func (p *Plan) Deletes() int {
	return p.count(KindDelete)
}

func (p *Plan) IsEmpty() bool {
	return len(p.Operations) == 0
}

func (p *Plan) count(kind Kind) int {
	n := 0
	for _, op := range p.Operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Validate checks that every put precedes every delete, that every operation
// stays inside the namespace, and that no path is touched twice.
func (p *Plan) Validate() error {
	if err := validateRepoName(p.Namespace); err != nil {
		return err
	}

	prefix := p.Namespace + "/"
	seen := make(map[string]bool, len(p.Operations))
	deleting := false

	for _, op := range p.Operations {
		switch op.Kind {
		case KindPut:
			if deleting {
				return &ReconcileError{Path: op.TargetPath, Reason: "put ordered after a delete"}
			}
		case KindDelete:
			deleting = true
			if op.PriorVersionID == "" {
				return &ReconcileError{Path: op.TargetPath, Reason: "delete without a version id"}
			}
		default:
			return &ReconcileError{Path: op.TargetPath, Reason: fmt.Sprintf("unknown operation kind %q", op.Kind)}
		}

		if !tree.IsNormalized(op.TargetPath) || !strings.HasPrefix(op.TargetPath, prefix) {
			return &ReconcileError{Path: op.TargetPath, Reason: fmt.Sprintf("outside namespace %s", prefix)}
		}
		if seen[op.TargetPath] {
			return &ReconcileError{Path: op.TargetPath, Reason: "touched more than once"}
		}
		seen[op.TargetPath] = true
	}

	return nil
}

// ReconcileError reports a broken invariant in the diff inputs or the plan.
type ReconcileError struct {
	Path   string
	Reason string
}

func (e *ReconcileError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("reconcile: %s", e.Reason)
	}
	return fmt.Sprintf("reconcile: %s: %s", e.Path, e.Reason)
}

func validateRepoName(name string) error {
	switch {
	case name == "":
		return &ReconcileError{Reason: "empty repository name"}
	case name == "." || name == "..":
		return &ReconcileError{Reason: fmt.Sprintf("invalid repository name %q", name)}
	case strings.ContainsAny(name, "/\\"):
		return &ReconcileError{Reason: fmt.Sprintf("repository name %q contains a separator", name)}
	}
	return nil
}
