package github

import (
	"context"
	"fmt"
	"net/http"
)

// CreateComment adds a comment to an issue or pull request.
func (c *Client) CreateComment(ctx context.Context, repo RepoRef, number int, body string) error {
	endpoint := fmt.Sprintf("%s/issues/%d/comments", repoPath(repo), number)
	requestBody := map[string]interface{}{
		"body": body,
	}
	if _, err := c.do(ctx, request{method: http.MethodPost, endpoint: endpoint, body: requestBody}, nil); err != nil {
		return fmt.Errorf("failed to comment on #%d: %w", number, err)
	}
	return nil
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, repo RepoRef, title, body string) (*Issue, error) {
	requestBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	var issue Issue
	if _, err := c.do(ctx, request{method: http.MethodPost, endpoint: repoPath(repo) + "/issues", body: requestBody}, &issue); err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}
	return &issue, nil
}

// CloseIssue sets an issue's state to closed.
func (c *Client) CloseIssue(ctx context.Context, repo RepoRef, number int) error {
	endpoint := fmt.Sprintf("%s/issues/%d", repoPath(repo), number)
	requestBody := map[string]interface{}{
		"state": "closed",
	}
	if _, err := c.do(ctx, request{method: http.MethodPatch, endpoint: endpoint, body: requestBody}, nil); err != nil {
		return fmt.Errorf("failed to close issue #%d: %w", number, err)
	}
	return nil
}
