package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"
)

func contentsPath(repo RepoRef, p, ref string) string {
	endpoint := repoPath(repo) + "/contents"
	if escaped := escapePath(p); escaped != "" {
		endpoint += "/" + escaped
	}
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	return endpoint
}

// ListDirectory lists the directory at p. When p names a file the listing
// describes that file and has no entries.
func (c *Client) ListDirectory(ctx context.Context, repo RepoRef, p, ref string) (*Listing, error) {
	var listing Listing
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: contentsPath(repo, p, ref),
		accept:   acceptObject,
	}, &listing)
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Trace().
		Str("repo", repo.String()).
		Str("path", p).
		Int("entries", len(listing.Entries)).
		Msg("listed directory")

	return &listing, nil
}

// GetContent downloads the bytes behind a download URL.
func (c *Client) GetContent(ctx context.Context, downloadURL string) ([]byte, error) {
	if downloadURL == "" {
		return nil, fmt.Errorf("empty download URL")
	}
	var content []byte
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: downloadURL,
		accept:   acceptRaw,
	}, &content)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// GetFile reads the raw content of a single file.
func (c *Client) GetFile(ctx context.Context, repo RepoRef, p, ref string) ([]byte, error) {
	var content []byte
	_, err := c.do(ctx, request{
		method:   http.MethodGet,
		endpoint: contentsPath(repo, p, ref),
		accept:   acceptRaw,
	}, &content)
	if err != nil {
		return nil, err
	}
	return content, nil
}

// PutFile creates or replaces a file. opts.SHA must carry the current blob sha
// when the file already exists.
func (c *Client) PutFile(ctx context.Context, repo RepoRef, p string, opts FileOptions) error {
	requestBody := map[string]interface{}{
		"message": opts.Message,
		"content": base64.StdEncoding.EncodeToString(opts.Content),
	}
	if opts.SHA != "" {
		requestBody["sha"] = opts.SHA
	}
	if opts.Branch != "" {
		requestBody["branch"] = opts.Branch
	}

	_, err := c.do(ctx, request{
		method:   http.MethodPut,
		endpoint: contentsPath(repo, p, ""),
		body:     requestBody,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to put %s: %w", p, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("repo", repo.String()).
		Str("path", p).
		Str("branch", opts.Branch).
		Bool("create", opts.SHA == "").
		Msg("put file")

	return nil
}

// DeleteFile removes a file at the given blob sha.
func (c *Client) DeleteFile(ctx context.Context, repo RepoRef, p string, opts FileOptions) error {
	requestBody := map[string]interface{}{
		"message": opts.Message,
		"sha":     opts.SHA,
	}
	if opts.Branch != "" {
		requestBody["branch"] = opts.Branch
	}

	_, err := c.do(ctx, request{
		method:   http.MethodDelete,
		endpoint: contentsPath(repo, p, ""),
		body:     requestBody,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}

	zerolog.Ctx(ctx).Debug().
		Str("repo", repo.String()).
		Str("path", p).
		Str("branch", opts.Branch).
		Msg("deleted file")

	return nil
}
