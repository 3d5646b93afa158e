package github

import (
	"fmt"
	"strings"
)

// RepoRef identifies a repository by owner and name.
type RepoRef struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

func (r RepoRef) String() string {
	return fmt.Sprintf("%s/%s", r.Owner, r.Name)
}

// Key is the case-insensitive identity GitHub uses for repositories.
func (r RepoRef) Key() string {
	return strings.ToLower(r.String())
}

// Repository holds the repository fields the service reads.
type Repository struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

// Entry types reported by the contents API.
const (
	EntryTypeFile      = "file"
	EntryTypeDir       = "dir"
	EntryTypeSymlink   = "symlink"
	EntryTypeSubmodule = "submodule"
)

// ContentEntry is one item of a directory listing.
type ContentEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url"`
}

// Listing is the object-shaped contents response. For a directory Entries holds
// its children; for a file the embedded entry describes the file itself.
type Listing struct {
	ContentEntry
	Entries []ContentEntry `json:"entries"`
}

// FileOptions carries the commit parameters of a contents mutation.
type FileOptions struct {
	Message string
	Content []byte
	SHA     string
	Branch  string
}

// MergeResult reports the outcome of a branch merge.
type MergeResult struct {
	Merged bool
	SHA    string
}

// Issue is the subset of an issue returned on creation.
type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

// InstallationToken is a short lived installation access token.
type InstallationToken struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}
