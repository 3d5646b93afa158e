package tree

import (
	"errors"
	"fmt"
)

// ErrMaxDepthExceeded is wrapped when a directory lies deeper than the walk allows.
var ErrMaxDepthExceeded = errors.New("maximum traversal depth exceeded")

// ErrListingTruncated is wrapped when a directory has more entries than one
// listing can return.
var ErrListingTruncated = errors.New("directory listing truncated")

// TraversalError reports the directory whose listing failed. Nothing was
// mutated when it is returned, so the run can safely be repeated.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	p := e.Path
	if p == "" {
		p = "/"
	}
	return fmt.Sprintf("traversal failed at %s: %v", p, e.Err)
}

func (e *TraversalError) Unwrap() error {
	return e.Err
}
