package github

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseRepository accepts "owner/name", https URLs (with or without
// credentials, github.com or enterprise hosts) and git@host:owner/name SSH URLs.
func ParseRepository(s string) (RepoRef, error) {
	s = strings.TrimSpace(s)
	_, p, ok := splitRepositoryURL(s)
	if !ok {
		p = s
	}

	p = strings.TrimSuffix(strings.Trim(p, "/"), ".git")
	parts := strings.Split(p, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return RepoRef{}, fmt.Errorf("unsupported repository reference: %s", s)
	}
	// bare references must be exactly owner/name
	if !ok && len(parts) != 2 {
		return RepoRef{}, fmt.Errorf("unsupported repository reference: %s", s)
	}
	return RepoRef{Owner: parts[0], Name: parts[1]}, nil
}

// APIBaseURL derives the REST endpoint for the host of a repository URL.
// Enterprise hosts serve the API under /api/v3. Bare owner/name references
// resolve to github.com.
func APIBaseURL(s string) string {
	host, _, ok := splitRepositoryURL(strings.TrimSpace(s))
	if !ok || host == "" || strings.EqualFold(host, "github.com") {
		return DefaultAPIBaseURL
	}
	return fmt.Sprintf("https://%s/api/v3", host)
}

// splitRepositoryURL returns the host and repository path of a URL form.
func splitRepositoryURL(s string) (string, string, bool) {
	if strings.HasPrefix(s, "git@") {
		remainder := strings.TrimPrefix(s, "git@")
		host, p, found := strings.Cut(remainder, ":")
		if !found {
			return "", "", false
		}
		return host, p, true
	}

	if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		u, err := url.Parse(s)
		if err != nil {
			return "", "", false
		}
		return u.Host, u.Path, true
	}

	return "", "", false
}
