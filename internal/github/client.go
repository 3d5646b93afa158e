package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIBaseURL is the REST endpoint of github.com.
	DefaultAPIBaseURL = "https://api.github.com"

	// MaxDirectoryEntries is the most entries the contents API returns for one
	// directory. Larger directories come back cut off.
	MaxDirectoryEntries = 1000

	apiVersion      = "2022-11-28"
	acceptJSON      = "application/vnd.github+json"
	acceptObject    = "application/vnd.github.object"
	acceptRaw       = "application/vnd.github.raw"
	maxResponseSize = 100 << 20
)

// Client talks to the GitHub REST API on behalf of one installation.
type Client struct {
	BaseURL string

	authorization string
	httpClient    *http.Client
	writes        *rate.Limiter
	maxBody       int64
}

type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithWriteLimiter paces every mutating request through limiter.
func WithWriteLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *Client) {
		c.writes = limiter
	}
}

// NewClient creates a client authenticating with an installation or personal token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	authorization := ""
	if token != "" {
		authorization = fmt.Sprintf("token %s", token)
	}
	return newClient(baseURL, authorization, opts...)
}

func newClient(baseURL, authorization string, opts ...ClientOption) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	c := &Client{
		BaseURL:       strings.TrimSuffix(baseURL, "/"),
		authorization: authorization,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		maxBody:       maxResponseSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	method   string
	endpoint string
	accept   string
	body     interface{}
}

// do sends the request and decodes a JSON response into out. A *[]byte out
// receives the raw body instead. The response status code is returned so that
// callers can tell 201 from 204.
func (c *Client) do(ctx context.Context, r request, out interface{}) (int, error) {
	if c.writes != nil && r.method != http.MethodGet {
		if err := c.writes.Wait(ctx); err != nil {
			return 0, fmt.Errorf("waiting for write budget: %w", err)
		}
	}

	var reader io.Reader
	if r.body != nil {
		bodyJSON, err := json.Marshal(r.body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(bodyJSON)
	}

	target := c.resolve(r.endpoint)
	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	if c.authorization != "" && c.authorizes(req.URL) {
		req.Header.Set("Authorization", c.authorization)
	}
	accept := r.accept
	if accept == "" {
		accept = acceptJSON
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	zerolog.Ctx(ctx).Trace().
		Str("method", r.method).
		Str("url", target).
		Msg("GitHub API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, ctxErr
		}
		return 0, &RequestError{Method: r.method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return resp.StatusCode, &RequestError{Method: r.method, URL: target, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if int64(len(responseBody)) > c.maxBody {
		return resp.StatusCode, fmt.Errorf("%s %s: %w (limit %d bytes)", r.method, target, ErrResponseTooLarge, c.maxBody)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, newAPIError(r.method, target, resp, responseBody)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	if raw, ok := out.(*[]byte); ok {
		*raw = responseBody
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to parse response of %s %s: %w", r.method, target, err)
	}

	return resp.StatusCode, nil
}

// resolve turns an API path into an absolute URL. Absolute URLs such as
// download links pass through unchanged.
func (c *Client) resolve(endpoint string) string {
	if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return c.BaseURL + endpoint
}

// authorizes reports whether credentials may be sent to u. Only the API host
// and GitHub's raw content hosts receive the token.
func (c *Client) authorizes(u *url.URL) bool {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, base.Host) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	return host == "githubusercontent.com" || strings.HasSuffix(host, ".githubusercontent.com")
}

// escapePath escapes each segment of a slash separated path.
func escapePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	segments := strings.Split(p, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func repoPath(repo RepoRef) string {
	return fmt.Sprintf("/repos/%s/%s", url.PathEscape(repo.Owner), url.PathEscape(repo.Name))
}
