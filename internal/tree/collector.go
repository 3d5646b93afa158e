// Package tree flattens remote directory trees into file entries.
package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/retry"
)

const (
	DefaultMaxDepth  = 64
	DefaultCacheSize = 500
)

// FileEntry is one file found by the walk. VersionID is the blob sha, so equal
// ids mean equal content.
type FileEntry struct {
	Path       string `json:"path" yaml:"path"`
	ContentURL string `json:"contentUrl" yaml:"contentUrl"`
	VersionID  string `json:"versionId" yaml:"versionId"`
}

// Lister lists one directory of a repository.
type Lister interface {
	ListDirectory(ctx context.Context, repo github.RepoRef, path, ref string) (*github.Listing, error)
}

// Request selects what to collect. An empty Roots collects the whole repository.
type Request struct {
	Repo  github.RepoRef
	Ref   string
	Roots []string
	// IgnoreMissingRoots treats a root that does not exist as empty.
	IgnoreMissingRoots bool
}

// Options tunes a Collector. Zero values fall back to the defaults.
type Options struct {
	MaxDepth  int
	CacheSize int
	Parallel  bool
	Retry     retry.Policy
}

// Collector walks repositories through a Lister. Listings are cached for the
// lifetime of the collector, which is meant to be one run.
type Collector struct {
	lister Lister
	opts   Options
	cache  *lru.Cache[string, *github.Listing]
}

// NewCollector creates a collector with its own listing cache.
func NewCollector(lister Lister, opts Options) (*Collector, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}

	cache, err := lru.New[string, *github.Listing](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create listing cache: %w", err)
	}

	return &Collector{
		lister: lister,
		opts:   opts,
		cache:  cache,
	}, nil
}

// Collect returns every file below the requested roots, sorted by path. Each
// root is collected on its own and the result is only assembled once all of
// them succeeded.
func (c *Collector) Collect(ctx context.Context, req Request) ([]FileEntry, error) {
	roots, err := normalizeRoots(req.Roots)
	if err != nil {
		return nil, err
	}

	results := make([][]FileEntry, len(roots))

	if c.opts.Parallel && len(roots) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i, root := range roots {
			i, root := i, root
			g.Go(func() error {
				files, err := c.collectRoot(gctx, req, root)
				if err != nil {
					return err
				}
				results[i] = files
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, root := range roots {
			files, err := c.collectRoot(ctx, req, root)
			if err != nil {
				return nil, err
			}
			results[i] = files
		}
	}

	merged := make(map[string]FileEntry)
	for _, files := range results {
		for _, f := range files {
			merged[f.Path] = f
		}
	}

	files := make([]FileEntry, 0, len(merged))
	for _, f := range merged {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})

	zerolog.Ctx(ctx).Debug().
		Str("repo", req.Repo.String()).
		Str("ref", req.Ref).
		Strs("roots", roots).
		Int("files", len(files)).
		Msg("collected tree")

	return files, nil
}

func normalizeRoots(roots []string) ([]string, error) {
	if len(roots) == 0 {
		return []string{""}, nil
	}

	seen := make(map[string]bool, len(roots))
	normalized := make([]string, 0, len(roots))
	for _, root := range roots {
		p, err := NormalizePath(root)
		if err != nil {
			return nil, &TraversalError{Path: root, Err: err}
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	return normalized, nil
}

type frame struct {
	path    string
	depth   int
	listing *github.Listing
}

func (c *Collector) collectRoot(ctx context.Context, req Request, root string) ([]FileEntry, error) {
	logger := zerolog.Ctx(ctx)

	listing, err := c.list(ctx, req, root)
	if err != nil {
		if req.IgnoreMissingRoots && errors.Is(err, github.ErrNotFound) {
			logger.Debug().
				Str("repo", req.Repo.String()).
				Str("root", root).
				Msg("root does not exist, treating as empty")
			return nil, nil
		}
		return nil, &TraversalError{Path: root, Err: err}
	}

	switch listing.Type {
	case github.EntryTypeFile:
		p := root
		if listing.Path != "" {
			if p, err = NormalizePath(listing.Path); err != nil {
				return nil, &TraversalError{Path: root, Err: err}
			}
		}
		return []FileEntry{{Path: p, ContentURL: listing.DownloadURL, VersionID: listing.SHA}}, nil
	case github.EntryTypeDir, "":
	default:
		logger.Trace().
			Str("root", root).
			Str("type", listing.Type).
			Msg("skipping root that is neither file nor directory")
		return nil, nil
	}

	var files []FileEntry
	visited := map[string]bool{root: true}
	stack := []frame{{path: root, depth: 0, listing: listing}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if err := ctx.Err(); err != nil {
			return nil, &TraversalError{Path: current.path, Err: err}
		}

		dir := current.listing
		if dir == nil {
			dir, err = c.list(ctx, req, current.path)
			if err != nil {
				return nil, &TraversalError{Path: current.path, Err: err}
			}
		}
		// the contents API cuts large directories off without saying so
		if len(dir.Entries) >= github.MaxDirectoryEntries {
			return nil, &TraversalError{Path: current.path, Err: ErrListingTruncated}
		}

		for _, entry := range dir.Entries {
			p, err := NormalizePath(entry.Path)
			if err != nil {
				return nil, &TraversalError{Path: current.path, Err: fmt.Errorf("invalid entry path: %w", err)}
			}

			switch entry.Type {
			case github.EntryTypeFile:
				files = append(files, FileEntry{Path: p, ContentURL: entry.DownloadURL, VersionID: entry.SHA})
			case github.EntryTypeDir:
				if visited[p] {
					continue
				}
				visited[p] = true
				if current.depth+1 > c.opts.MaxDepth {
					return nil, &TraversalError{Path: p, Err: ErrMaxDepthExceeded}
				}
				stack = append(stack, frame{path: p, depth: current.depth + 1})
			default:
				logger.Trace().
					Str("path", p).
					Str("type", entry.Type).
					Msg("skipping entry")
			}
		}
	}

	return files, nil
}

// list fetches a listing through the cache, retrying transient failures.
func (c *Collector) list(ctx context.Context, req Request, p string) (*github.Listing, error) {
	key := fmt.Sprintf("%s@%s:%s", req.Repo.Key(), req.Ref, p)
	if listing, ok := c.cache.Get(key); ok {
		return listing, nil
	}

	var listing *github.Listing
	err := c.opts.Retry.Do(ctx, github.IsTransient, func() error {
		var err error
		listing, err = c.lister.ListDirectory(ctx, req.Repo, p, req.Ref)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.cache.Add(key, listing)
	return listing, nil
}
