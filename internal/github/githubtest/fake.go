// Package githubtest provides an in-memory GitHub remote for tests.
package githubtest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/mxcd/showcaser/internal/github"
)

const rawPrefix = "https://raw.fake/"

// BlobSHA computes the git blob id of content, as GitHub reports it.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

type branch struct {
	head       string
	forkedFrom string
	files      map[string]string // path -> blob sha
}

type repository struct {
	ref           github.RepoRef
	defaultBranch string
	installation  int64
	branches      map[string]*branch
	issues        []*github.Issue
	comments      map[int][]string
}

// Fake is a thread-safe stand-in for the GitHub REST surface the service uses.
// Branch heads are synthetic commit ids that change on every mutation.
type Fake struct {
	mu       sync.Mutex
	repos    map[string]*repository
	blobs    map[string][]byte
	failures map[string][]error
	calls    []string
	commits  int

	// OnCall runs before every call with its call key, outside the lock.
	OnCall func(call string)
}

func New() *Fake {
	return &Fake{
		repos:    map[string]*repository{},
		blobs:    map[string][]byte{},
		failures: map[string][]error{},
	}
}

// AddRepo creates a repository whose default branch holds files.
func (f *Fake) AddRepo(owner, name, defaultBranch string, files map[string]string) github.RepoRef {
	f.mu.Lock()
	defer f.mu.Unlock()

	ref := github.RepoRef{Owner: owner, Name: name}
	b := &branch{files: map[string]string{}}
	for p, content := range files {
		b.files[p] = f.storeLocked([]byte(content))
	}
	b.head = f.commitLocked()
	f.repos[ref.Key()] = &repository{
		ref:           ref,
		defaultBranch: defaultBranch,
		branches:      map[string]*branch{defaultBranch: b},
		comments:      map[int][]string{},
	}
	return ref
}

// SetInstallation records which installation id the app has on repo.
func (f *Fake) SetInstallation(repo github.RepoRef, id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.repos[repo.Key()]; ok {
		r.installation = id
	}
}

// WriteFile changes a file on a branch outside of any client call.
func (f *Fake) WriteFile(repo github.RepoRef, branchName, p, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.repos[repo.Key()].branches[branchName]
	b.files[p] = f.storeLocked([]byte(content))
	b.head = f.commitLocked()
}

// RemoveFile deletes a file on a branch outside of any client call.
func (f *Fake) RemoveFile(repo github.RepoRef, branchName, p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.repos[repo.Key()].branches[branchName]
	delete(b.files, p)
	b.head = f.commitLocked()
}

// Files returns the content of every file on a branch.
func (f *Fake) Files(repo github.RepoRef, branchName string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	r, ok := f.repos[repo.Key()]
	if !ok {
		return out
	}
	b, ok := r.branches[branchName]
	if !ok {
		return out
	}
	for p, sha := range b.files {
		out[p] = string(f.blobs[sha])
	}
	return out
}

// Branches lists the branch names of repo.
func (f *Fake) Branches(repo github.RepoRef) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.repos[repo.Key()].branches {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Issues returns the issues created on repo.
func (f *Fake) Issues(repo github.RepoRef) []github.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []github.Issue
	for _, issue := range f.repos[repo.Key()].issues {
		out = append(out, *issue)
	}
	return out
}

// Comments returns the comments posted on issue or pull request number.
func (f *Fake) Comments(repo github.RepoRef, number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.repos[repo.Key()].comments[number]...)
}

// Fail queues errors returned by the next calls matching key, in order.
func (f *Fake) Fail(key string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[key] = append(f.failures[key], errs...)
}

// Calls returns every call key seen so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallsWithPrefix counts calls whose key starts with prefix.
func (f *Fake) CallsWithPrefix(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// ResetCalls forgets recorded calls.
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Key builds a call key as recorded by the fake.
func Key(method string, repo github.RepoRef, subject string) string {
	return fmt.Sprintf("%s %s %s", method, repo.Key(), subject)
}

// Status returns an API error carrying status code, classified like real responses.
func Status(code int) error {
	return &github.APIError{Method: "FAKE", URL: "fake", StatusCode: code}
}

// enter records the call and returns a queued failure, if any. On success the
// lock is held and must be released by the caller.
func (f *Fake) enter(ctx context.Context, key string) error {
	if f.OnCall != nil {
		f.OnCall(key)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		f.mu.Unlock()
		return errs[0]
	}
	return nil
}

func (f *Fake) storeLocked(content []byte) string {
	sha := BlobSHA(content)
	f.blobs[sha] = append([]byte(nil), content...)
	return sha
}

func (f *Fake) commitLocked() string {
	f.commits++
	return fmt.Sprintf("commit-%04d", f.commits)
}

func (f *Fake) repoLocked(ref github.RepoRef) (*repository, error) {
	r, ok := f.repos[ref.Key()]
	if !ok {
		return nil, Status(http.StatusNotFound)
	}
	return r, nil
}

func (f *Fake) branchLocked(ref github.RepoRef, name string) (*repository, *branch, error) {
	r, err := f.repoLocked(ref)
	if err != nil {
		return nil, nil, err
	}
	if name == "" {
		name = r.defaultBranch
	}
	if b, ok := r.branches[name]; ok {
		return r, b, nil
	}
	// a commit id resolves to the branch it is currently the head of
	for _, b := range r.branches {
		if b.head == name {
			return r, b, nil
		}
	}
	return nil, nil, Status(http.StatusNotFound)
}

func cloneFiles(files map[string]string) map[string]string {
	out := make(map[string]string, len(files))
	for p, sha := range files {
		out[p] = sha
	}
	return out
}
