package githubtest

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/mxcd/showcaser/internal/github"
)

func (f *Fake) ListDirectory(ctx context.Context, repo github.RepoRef, p, ref string) (*github.Listing, error) {
	p = strings.Trim(p, "/")
	if err := f.enter(ctx, Key("ListDirectory", repo, p)); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	_, b, err := f.branchLocked(repo, ref)
	if err != nil {
		return nil, err
	}

	if sha, ok := b.files[p]; ok {
		return &github.Listing{ContentEntry: f.fileEntry(p, sha)}, nil
	}

	listing := &github.Listing{ContentEntry: github.ContentEntry{Type: github.EntryTypeDir, Path: p, Name: baseName(p)}}
	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	dirs := map[string]bool{}
	for filePath, sha := range b.files {
		if !strings.HasPrefix(filePath, prefix) {
			continue
		}
		rest := strings.TrimPrefix(filePath, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			dirs[prefix+rest[:i]] = true
			continue
		}
		listing.Entries = append(listing.Entries, f.fileEntry(filePath, sha))
	}
	for dir := range dirs {
		listing.Entries = append(listing.Entries, github.ContentEntry{Type: github.EntryTypeDir, Path: dir, Name: baseName(dir)})
	}
	if p != "" && len(listing.Entries) == 0 {
		return nil, Status(http.StatusNotFound)
	}
	sort.Slice(listing.Entries, func(i, j int) bool {
		return listing.Entries[i].Path < listing.Entries[j].Path
	})
	return listing, nil
}

func (f *Fake) fileEntry(p, sha string) github.ContentEntry {
	return github.ContentEntry{
		Type:        github.EntryTypeFile,
		Name:        baseName(p),
		Path:        p,
		SHA:         sha,
		DownloadURL: rawPrefix + sha,
	}
}

func (f *Fake) GetContent(ctx context.Context, url string) ([]byte, error) {
	if err := f.enter(ctx, "GetContent "+url); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	content, ok := f.blobs[strings.TrimPrefix(url, rawPrefix)]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (f *Fake) GetFile(ctx context.Context, repo github.RepoRef, p, ref string) ([]byte, error) {
	p = strings.Trim(p, "/")
	if err := f.enter(ctx, Key("GetFile", repo, p)); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	_, b, err := f.branchLocked(repo, ref)
	if err != nil {
		return nil, err
	}
	sha, ok := b.files[p]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	return append([]byte(nil), f.blobs[sha]...), nil
}

func (f *Fake) PutFile(ctx context.Context, repo github.RepoRef, p string, opts github.FileOptions) error {
	if err := f.enter(ctx, Key("PutFile", repo, p)); err != nil {
		return err
	}
	defer f.mu.Unlock()

	_, b, err := f.branchLocked(repo, opts.Branch)
	if err != nil {
		return err
	}
	current, exists := b.files[p]
	switch {
	case exists && opts.SHA == "":
		return Status(http.StatusUnprocessableEntity)
	case exists && opts.SHA != current, !exists && opts.SHA != "":
		return Status(http.StatusConflict)
	}
	b.files[p] = f.storeLocked(opts.Content)
	b.head = f.commitLocked()
	return nil
}

func (f *Fake) DeleteFile(ctx context.Context, repo github.RepoRef, p string, opts github.FileOptions) error {
	if err := f.enter(ctx, Key("DeleteFile", repo, p)); err != nil {
		return err
	}
	defer f.mu.Unlock()

	_, b, err := f.branchLocked(repo, opts.Branch)
	if err != nil {
		return err
	}
	current, exists := b.files[p]
	if !exists {
		return Status(http.StatusNotFound)
	}
	if opts.SHA != current {
		return Status(http.StatusConflict)
	}
	delete(b.files, p)
	b.head = f.commitLocked()
	return nil
}

func (f *Fake) GetRepository(ctx context.Context, repo github.RepoRef) (*github.Repository, error) {
	if err := f.enter(ctx, Key("GetRepository", repo, "")); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return nil, err
	}
	repository := &github.Repository{
		Name:          r.ref.Name,
		FullName:      r.ref.String(),
		DefaultBranch: r.defaultBranch,
	}
	repository.Owner.Login = r.ref.Owner
	return repository, nil
}

func (f *Fake) GetBranchHead(ctx context.Context, repo github.RepoRef, branchName string) (string, error) {
	if err := f.enter(ctx, Key("GetBranchHead", repo, branchName)); err != nil {
		return "", err
	}
	defer f.mu.Unlock()

	_, b, err := f.branchLocked(repo, branchName)
	if err != nil {
		return "", err
	}
	return b.head, nil
}

func (f *Fake) CreateRef(ctx context.Context, repo github.RepoRef, branchName, sha string) error {
	if err := f.enter(ctx, Key("CreateRef", repo, branchName)); err != nil {
		return err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return err
	}
	if _, exists := r.branches[branchName]; exists {
		return Status(http.StatusUnprocessableEntity)
	}
	for _, b := range r.branches {
		if b.head == sha {
			r.branches[branchName] = &branch{head: sha, forkedFrom: sha, files: cloneFiles(b.files)}
			return nil
		}
	}
	return Status(http.StatusUnprocessableEntity)
}

func (f *Fake) DeleteRef(ctx context.Context, repo github.RepoRef, branchName string) error {
	if err := f.enter(ctx, Key("DeleteRef", repo, branchName)); err != nil {
		return err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return err
	}
	if _, exists := r.branches[branchName]; !exists {
		return Status(http.StatusNotFound)
	}
	delete(r.branches, branchName)
	return nil
}

// Merge fast-forwards base to head when base has not moved since head was
// forked from it, and reports a conflict otherwise.
func (f *Fake) Merge(ctx context.Context, repo github.RepoRef, base, head, message string) (*github.MergeResult, error) {
	if err := f.enter(ctx, Key("Merge", repo, head+"->"+base)); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return nil, err
	}
	baseBranch, ok := r.branches[base]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	headBranch, ok := r.branches[head]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	if headBranch.head == baseBranch.head {
		return &github.MergeResult{Merged: false}, nil
	}
	if baseBranch.head != headBranch.forkedFrom {
		return nil, Status(http.StatusConflict)
	}
	baseBranch.files = cloneFiles(headBranch.files)
	baseBranch.head = f.commitLocked()
	return &github.MergeResult{Merged: true, SHA: baseBranch.head}, nil
}

func (f *Fake) CreateComment(ctx context.Context, repo github.RepoRef, number int, body string) error {
	if err := f.enter(ctx, Key("CreateComment", repo, strconv.Itoa(number))); err != nil {
		return err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return err
	}
	r.comments[number] = append(r.comments[number], body)
	return nil
}

func (f *Fake) CreateIssue(ctx context.Context, repo github.RepoRef, title, body string) (*github.Issue, error) {
	if err := f.enter(ctx, Key("CreateIssue", repo, title)); err != nil {
		return nil, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return nil, err
	}
	issue := &github.Issue{Number: len(r.issues) + 1, State: "open"}
	r.issues = append(r.issues, issue)
	r.comments[issue.Number] = append(r.comments[issue.Number], body)
	copied := *issue
	return &copied, nil
}

func (f *Fake) CloseIssue(ctx context.Context, repo github.RepoRef, number int) error {
	if err := f.enter(ctx, Key("CloseIssue", repo, strconv.Itoa(number))); err != nil {
		return err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return err
	}
	if number < 1 || number > len(r.issues) {
		return Status(http.StatusNotFound)
	}
	r.issues[number-1].State = "closed"
	return nil
}

// RepositoryInstallation mirrors App.RepositoryInstallation.
func (f *Fake) RepositoryInstallation(ctx context.Context, repo github.RepoRef) (int64, error) {
	if err := f.enter(ctx, Key("RepositoryInstallation", repo, "")); err != nil {
		return 0, err
	}
	defer f.mu.Unlock()

	r, err := f.repoLocked(repo)
	if err != nil {
		return 0, err
	}
	if r.installation == 0 {
		return 0, Status(http.StatusNotFound)
	}
	return r.installation, nil
}

func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
