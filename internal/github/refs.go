package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

// GetRepository fetches repository metadata, most importantly its default branch.
func (c *Client) GetRepository(ctx context.Context, repo RepoRef) (*Repository, error) {
	var repository Repository
	if _, err := c.do(ctx, request{method: http.MethodGet, endpoint: repoPath(repo)}, &repository); err != nil {
		return nil, fmt.Errorf("failed to get repository %s: %w", repo, err)
	}
	return &repository, nil
}

// GetBranchHead resolves the commit sha a branch points at.
func (c *Client) GetBranchHead(ctx context.Context, repo RepoRef, branch string) (string, error) {
	var ref struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	endpoint := fmt.Sprintf("%s/git/ref/heads/%s", repoPath(repo), escapePath(branch))
	if _, err := c.do(ctx, request{method: http.MethodGet, endpoint: endpoint}, &ref); err != nil {
		return "", fmt.Errorf("failed to resolve branch %s: %w", branch, err)
	}
	if ref.Object.SHA == "" {
		return "", fmt.Errorf("branch %s resolved to an empty sha", branch)
	}
	return ref.Object.SHA, nil
}

// CreateRef creates refs/heads/<branch> at sha.
func (c *Client) CreateRef(ctx context.Context, repo RepoRef, branch, sha string) error {
	requestBody := map[string]interface{}{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	}
	endpoint := repoPath(repo) + "/git/refs"
	if _, err := c.do(ctx, request{method: http.MethodPost, endpoint: endpoint, body: requestBody}, nil); err != nil {
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("repo", repo.String()).
		Str("branch", branch).
		Str("sha", sha).
		Msg("created branch")

	return nil
}

// DeleteRef deletes refs/heads/<branch>.
func (c *Client) DeleteRef(ctx context.Context, repo RepoRef, branch string) error {
	endpoint := fmt.Sprintf("%s/git/refs/heads/%s", repoPath(repo), escapePath(branch))
	if _, err := c.do(ctx, request{method: http.MethodDelete, endpoint: endpoint}, nil); err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", branch, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("repo", repo.String()).
		Str("branch", branch).
		Msg("deleted branch")

	return nil
}

// Merge merges head into base. A 204 response means base already contained head.
func (c *Client) Merge(ctx context.Context, repo RepoRef, base, head, message string) (*MergeResult, error) {
	requestBody := map[string]interface{}{
		"base": base,
		"head": head,
	}
	if message != "" {
		requestBody["commit_message"] = message
	}

	var commit struct {
		SHA string `json:"sha"`
	}
	status, err := c.do(ctx, request{method: http.MethodPost, endpoint: repoPath(repo) + "/merges", body: requestBody}, &commit)
	if err != nil {
		return nil, fmt.Errorf("failed to merge %s into %s: %w", head, base, err)
	}

	result := &MergeResult{Merged: status == http.StatusCreated, SHA: commit.SHA}

	zerolog.Ctx(ctx).Debug().
		Str("repo", repo.String()).
		Str("base", base).
		Str("head", head).
		Bool("merged", result.Merged).
		Str("sha", result.SHA).
		Msg("merged branch")

	return result, nil
}
