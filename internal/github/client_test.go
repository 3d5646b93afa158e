package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRepo = RepoRef{Owner: "octo", Name: "site"}

func TestListDirectory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/site/contents/src/lib", r.URL.Path)
		assert.Equal(t, "main", r.URL.Query().Get("ref"))
		assert.Equal(t, "application/vnd.github.object", r.Header.Get("Accept"))
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"type": "dir", "name": "lib", "path": "src/lib", "sha": "d1",
			"entries": [
				{"type": "file", "name": "a.go", "path": "src/lib/a.go", "sha": "f1", "download_url": "https://raw.githubusercontent.com/octo/site/main/src/lib/a.go"},
				{"type": "dir", "name": "sub", "path": "src/lib/sub", "sha": "d2"}
			]
		}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	listing, err := client.ListDirectory(context.Background(), testRepo, "/src/lib/", "main")
	require.NoError(t, err)

	assert.Equal(t, EntryTypeDir, listing.Type)
	require.Len(t, listing.Entries, 2)
	assert.Equal(t, "src/lib/a.go", listing.Entries[0].Path)
	assert.Equal(t, "f1", listing.Entries[0].SHA)
	assert.Equal(t, EntryTypeDir, listing.Entries[1].Type)
}

func TestPutAndDeleteFile(t *testing.T) {
	var bodies []map[string]string
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/site/contents/site/docs/read%20me.md", r.URL.EscapedPath())
		body := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		bodies = append(bodies, body)
		methods = append(methods, r.Method)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, `{}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	ctx := context.Background()

	err := client.PutFile(ctx, testRepo, "site/docs/read me.md", FileOptions{
		Message: "update",
		Content: []byte("hello"),
		SHA:     "old",
		Branch:  "showcase-update",
	})
	require.NoError(t, err)

	err = client.DeleteFile(ctx, testRepo, "site/docs/read me.md", FileOptions{
		Message: "remove",
		SHA:     "old",
		Branch:  "showcase-update",
	})
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, []string{http.MethodPut, http.MethodDelete}, methods)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("hello")), bodies[0]["content"])
	assert.Equal(t, "old", bodies[0]["sha"])
	assert.Equal(t, "showcase-update", bodies[0]["branch"])
	assert.Equal(t, "remove", bodies[1]["message"])
	_, hasContent := bodies[1]["content"]
	assert.False(t, hasContent)
}

func TestPutFileCreateOmitsSHA(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, hasSHA := body["sha"]
		assert.False(t, hasSHA)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	err := NewClient(server.URL, "").PutFile(context.Background(), testRepo, "site/new.txt", FileOptions{Content: []byte("x")})
	require.NoError(t, err)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantMerged bool
		wantSHA    string
		wantErr    error
	}{
		{name: "merged", status: http.StatusCreated, body: `{"sha":"abc"}`, wantMerged: true, wantSHA: "abc"},
		{name: "nothing to merge", status: http.StatusNoContent},
		{name: "conflict", status: http.StatusConflict, body: `{"message":"Merge conflict"}`, wantErr: ErrConflict},
		{name: "missing base", status: http.StatusNotFound, body: `{"message":"Base does not exist"}`, wantErr: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/repos/octo/site/merges", r.URL.Path)
				var body map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, "main", body["base"])
				assert.Equal(t, "showcase-update", body["head"])
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer server.Close()

			result, err := NewClient(server.URL, "t").Merge(context.Background(), testRepo, "main", "showcase-update", "")
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMerged, result.Merged)
			assert.Equal(t, tt.wantSHA, result.SHA)
		})
	}
}

func TestRefs(t *testing.T) {
	var created map[string]string
	deleted := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/site":
			_, _ = io.WriteString(w, `{"name":"site","full_name":"octo/site","default_branch":"trunk"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/repos/octo/site/git/ref/heads/trunk":
			_, _ = io.WriteString(w, `{"ref":"refs/heads/trunk","object":{"sha":"tip"}}`)
		case r.Method == http.MethodPost && r.URL.Path == "/repos/octo/site/git/refs":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusCreated)
		case r.Method == http.MethodDelete && r.URL.Path == "/repos/octo/site/git/refs/heads/showcase-update":
			deleted = true
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "t")
	ctx := context.Background()

	repository, err := client.GetRepository(ctx, testRepo)
	require.NoError(t, err)
	assert.Equal(t, "trunk", repository.DefaultBranch)

	sha, err := client.GetBranchHead(ctx, testRepo, repository.DefaultBranch)
	require.NoError(t, err)
	assert.Equal(t, "tip", sha)

	require.NoError(t, client.CreateRef(ctx, testRepo, "showcase-update", sha))
	assert.Equal(t, map[string]string{"ref": "refs/heads/showcase-update", "sha": "tip"}, created)

	require.NoError(t, client.DeleteRef(ctx, testRepo, "showcase-update"))
	assert.True(t, deleted)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		header    map[string]string
		notFound  bool
		conflict  bool
		transient bool
	}{
		{name: "not found", status: http.StatusNotFound, notFound: true},
		{name: "stale sha", status: http.StatusConflict, conflict: true},
		{name: "ref exists", status: http.StatusUnprocessableEntity, conflict: true},
		{name: "server error", status: http.StatusBadGateway, transient: true},
		{name: "too many requests", status: http.StatusTooManyRequests, transient: true},
		{name: "secondary rate limit", status: http.StatusForbidden, header: map[string]string{"Retry-After": "30"}, transient: true},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"message":"nope"}`)
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "t").ListDirectory(context.Background(), testRepo, "x", "")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, "nope", apiErr.Message)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrNotFound))
			assert.Equal(t, tt.conflict, errors.Is(err, ErrConflict))
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestRequestErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewClient(url, "t").ListDirectory(context.Background(), testRepo, "x", "")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestGetContentSkipsAuthorizationForForeignHosts(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, "raw bytes")
	}))
	defer foreign.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github.raw", r.Header.Get("Accept"))
		_, _ = io.WriteString(w, "api bytes")
	}))
	defer api.Close()

	client := NewClient(api.URL, "secret")
	ctx := context.Background()

	content, err := client.GetContent(ctx, foreign.URL+"/octo/site/main/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(content))

	content, err = client.GetFile(ctx, testRepo, ".showcase", "main")
	require.NoError(t, err)
	assert.Equal(t, "api bytes", string(content))
}

func TestIssues(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/repos/octo/site/issues":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"number":7,"state":"open"}`)
		default:
			_, _ = io.WriteString(w, `{}`)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, "t")
	ctx := context.Background()

	require.NoError(t, client.CreateComment(ctx, testRepo, 3, "hi"))
	issue, err := client.CreateIssue(ctx, testRepo, "title", "body")
	require.NoError(t, err)
	assert.Equal(t, 7, issue.Number)
	require.NoError(t, client.CloseIssue(ctx, testRepo, issue.Number))

	assert.Equal(t, []string{
		"POST /repos/octo/site/issues/3/comments",
		"POST /repos/octo/site/issues",
		"PATCH /repos/octo/site/issues/7",
	}, paths)
}

func TestOversizedResponseIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret")
	client.maxBody = 10
	content, err := client.GetContent(context.Background(), server.URL+"/raw/exact")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(content))

	client.maxBody = 4
	_, err = client.GetContent(context.Background(), server.URL+"/raw/big")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrResponseTooLarge))
	assert.False(t, IsTransient(err))
}
