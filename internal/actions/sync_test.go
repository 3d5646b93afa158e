package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/mxcd/showcaser/internal/configuration"
	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/github/githubtest"
	"github.com/mxcd/showcaser/internal/manifest"
	"github.com/mxcd/showcaser/internal/showcase"
)

func testConfig() *configuration.Config {
	config := &configuration.Config{
		Sync: configuration.SyncConfig{
			Retry: configuration.RetryConfig{
				MaxRetries:      1,
				InitialInterval: time.Millisecond,
				MaxInterval:     time.Millisecond,
			},
		},
	}
	configuration.ApplyDefaults(config)
	return config
}

func setupRepos(t *testing.T, manifestJSON string) (*githubtest.Fake, github.RepoRef, github.RepoRef) {
	t.Helper()
	fake := githubtest.New()
	files := map[string]string{
		"app/main.go":   "package main",
		"app/notes.txt": "private",
		"README.md":     "# project",
	}
	if manifestJSON != "" {
		files[manifest.FileName] = manifestJSON
	}
	source := fake.AddRepo("octo", "project", "main", files)
	target := fake.AddRepo("octo", "portfolio", "main", map[string]string{
		"README.md":       "portfolio",
		"project/old.txt": "gone",
	})
	return fake, source, target
}

const projectManifest = `{
	"showcaseEnabled": true,
	"showcaseRepo": "portfolio",
	"includedDirectories": ["/app"],
	"excludedFiles": ["app/notes.txt"]
}`

func TestRunSyncDryRunLeavesTargetUntouched(t *testing.T) {
	fake, source, target := setupRepos(t, projectManifest)
	var out bytes.Buffer

	err := runSync(context.Background(), fake, testConfig(), source, &SyncOptions{
		DryRun:       true,
		OutputFormat: "json",
		Out:          &out,
	})
	require.NoError(t, err)

	var report struct {
		Status string `json:"status"`
		Plan   struct {
			Namespace  string `json:"namespace"`
			Operations []struct {
				Kind       string `json:"kind"`
				TargetPath string `json:"targetPath"`
			} `json:"operations"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "planned", report.Status)
	assert.Equal(t, "project", report.Plan.Namespace)
	require.Len(t, report.Plan.Operations, 2)
	assert.Equal(t, "put", report.Plan.Operations[0].Kind)
	assert.Equal(t, "project/app/main.go", report.Plan.Operations[0].TargetPath)
	assert.Equal(t, "delete", report.Plan.Operations[1].Kind)
	assert.Equal(t, "project/old.txt", report.Plan.Operations[1].TargetPath)

	assert.Contains(t, fake.Files(target, "main"), "project/old.txt")
	assert.Zero(t, fake.CallsWithPrefix("PutFile"))
}

func TestRunSyncPublishes(t *testing.T) {
	fake, source, target := setupRepos(t, projectManifest)
	var out bytes.Buffer

	err := runSync(context.Background(), fake, testConfig(), source, &SyncOptions{
		OutputFormat: "table",
		Out:          &out,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"README.md":           "portfolio",
		"project/app/main.go": "package main",
	}, fake.Files(target, "main"))
	assert.Equal(t, []string{"main"}, fake.Branches(target))
	assert.Contains(t, out.String(), "project/app/main.go")
	assert.Contains(t, out.String(), "Merged 2 operations into octo/portfolio@main")
}

func TestRunSyncReportsSkips(t *testing.T) {
	fake, source, _ := setupRepos(t, "")
	var out bytes.Buffer

	err := runSync(context.Background(), fake, testConfig(), source, &SyncOptions{
		OutputFormat: "yaml",
		Out:          &out,
	})
	require.ErrorIs(t, err, ErrSkipped)

	var report map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &report))
	assert.Equal(t, "skipped", report["status"])
	assert.Equal(t, "no .showcase manifest", report["skipReason"])
}

func TestRunSyncFailure(t *testing.T) {
	fake, source, _ := setupRepos(t, projectManifest)
	fake.Fail(githubtest.Key("GetRepository", source, ""), githubtest.Status(403))
	var out bytes.Buffer

	err := runSync(context.Background(), fake, testConfig(), source, &SyncOptions{
		OutputFormat: "table",
		Out:          &out,
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSkipped))
	assert.Contains(t, out.String(), "Mirroring octo/project failed")
}

func TestSyncRejectsInvalidRepository(t *testing.T) {
	err := Sync(context.Background(), &SyncOptions{Repository: "not-a-repo"})
	require.Error(t, err)
}

func TestOutputReportUnknownFormat(t *testing.T) {
	err := outputReport(&bytes.Buffer{}, &showcase.Report{Status: showcase.StatusPlanned}, "xml")
	assert.EqualError(t, err, "unsupported output format: xml")
}

func TestValidateForSyncIgnoresServerSettings(t *testing.T) {
	config := testConfig()
	config.App.ID = 1
	config.App.PrivateKey = "garbage"

	result := validateForSync(config, false)
	require.False(t, result.Valid)
	for _, err := range result.Errors {
		assert.NotContains(t, err.Field, "server.")
	}

	assert.True(t, validateForSync(config, true).Valid)
}
