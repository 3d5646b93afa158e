package actions

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "showcaser.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateSyncOnly(t *testing.T) {
	path := writeConfig(t, "sync:\n  stagingBranch: bots/showcase\n")
	var out bytes.Buffer

	err := Validate(&ValidateOptions{ConfigPath: path, OutputFormat: "table", SyncOnly: true, Out: &out})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Configuration is valid")
}

func TestValidateReportsErrors(t *testing.T) {
	path := writeConfig(t, "sync:\n  stagingBranch: \"bad branch\"\n  maxDepth: -3\n")
	var out bytes.Buffer

	err := Validate(&ValidateOptions{ConfigPath: path, OutputFormat: "json", SyncOnly: true, Out: &out})
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	var result validationOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, 2, result.ErrorCount)
	assert.Equal(t, "sync.stagingBranch", result.Errors[0].Field)
	assert.Equal(t, "sync.maxDepth", result.Errors[1].Field)
}

func TestValidateSARIF(t *testing.T) {
	path := writeConfig(t, "app:\n  apiBaseUrl: ftp://example.com\n")
	var out bytes.Buffer

	err := Validate(&ValidateOptions{ConfigPath: path, OutputFormat: "sarif", SyncOnly: true, Out: &out})
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	var sarif struct {
		Version string `json:"version"`
		Runs    []struct {
			Results []struct {
				RuleID string `json:"ruleId"`
			} `json:"results"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &sarif))
	assert.Equal(t, "2.1.0", sarif.Version)
	require.Len(t, sarif.Runs, 1)
	require.Len(t, sarif.Runs[0].Results, 1)
	assert.Equal(t, "configuration-error", sarif.Runs[0].Results[0].RuleID)
}

func TestValidateLoadError(t *testing.T) {
	err := Validate(&ValidateOptions{ConfigPath: "/does/not/exist.yml", OutputFormat: "table"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfiguration)
}

func TestValidateUnsupportedFormat(t *testing.T) {
	path := writeConfig(t, "sync: {}\n")
	err := Validate(&ValidateOptions{ConfigPath: path, OutputFormat: "xml", SyncOnly: true, Out: &bytes.Buffer{}})
	assert.ErrorContains(t, err, "unsupported output format: xml")
}
