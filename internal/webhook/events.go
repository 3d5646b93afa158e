package webhook

import "github.com/mxcd/showcaser/internal/github"

type Account struct {
	Login string `json:"login"`
}

type Repository struct {
	Name     string  `json:"name"`
	FullName string  `json:"full_name"`
	Owner    Account `json:"owner"`
}

// Ref returns the repository as a RepoRef.
func (r Repository) Ref() github.RepoRef {
	return github.RepoRef{Owner: r.Owner.Login, Name: r.Name}
}

type Installation struct {
	ID int64 `json:"id"`
}

type PullRequest struct {
	Number      int    `json:"number"`
	Merged      bool   `json:"merged"`
	CommentsURL string `json:"comments_url"`
	HTMLURL     string `json:"html_url"`
}

// PullRequestEvent is the payload of pull_request deliveries.
type PullRequestEvent struct {
	Action       string       `json:"action"`
	Number       int          `json:"number"`
	PullRequest  PullRequest  `json:"pull_request"`
	Repository   Repository   `json:"repository"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
}

// InstallationEvent is the payload of installation deliveries.
type InstallationEvent struct {
	Action       string       `json:"action"`
	Installation Installation `json:"installation"`
	Sender       Account      `json:"sender"`
	Repositories []struct {
		Name     string `json:"name"`
		FullName string `json:"full_name"`
	} `json:"repositories"`
}
