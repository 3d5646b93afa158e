// Package manifest parses the per-repository .showcase file.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mxcd/showcaser/internal/tree"
)

// FileName is the manifest's location at the repository root. It is never mirrored.
const FileName = ".showcase"

// Config is the validated manifest. Directory and file paths are normalized
// repo paths; the repository root is "".
type Config struct {
	IsShowcaseRepo      bool     `json:"isShowcaseRepo" yaml:"isShowcaseRepo"`
	ShowcaseEnabled     bool     `json:"showcaseEnabled" yaml:"showcaseEnabled"`
	ShowcaseRepo        string   `json:"showcaseRepo,omitempty" yaml:"showcaseRepo,omitempty"`
	IncludedDirectories []string `json:"includedDirectories,omitempty" yaml:"includedDirectories,omitempty"`
	ExcludedFiles       []string `json:"excludedFiles,omitempty" yaml:"excludedFiles,omitempty"`
}

// Eligible reports whether the repository asks to be mirrored.
func (c *Config) Eligible() bool {
	return !c.IsShowcaseRepo && c.ShowcaseEnabled
}

// ManifestError names the offending field of an invalid manifest.
type ManifestError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s: %s", FileName, e.Reason)
	}
	return fmt.Sprintf("invalid %s field %s: %s", FileName, e.Field, e.Reason)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

type document struct {
	IsShowcaseRepo      *bool    `json:"isShowcaseRepo"`
	ShowcaseEnable      *bool    `json:"showcaseEnable"`
	ShowcaseEnabled     *bool    `json:"showcaseEnabled"`
	ShowcaseRepo        *string  `json:"showcaseRepo"`
	IncludedDirectories []string `json:"includedDirectories"`
	ExcludedFiles       []string `json:"excludedFiles"`
}

// Parse decodes and validates a manifest. Unknown fields are ignored. Fields
// only needed for mirroring are required only when the repository is eligible.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ManifestError{Reason: "file is empty"}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ManifestError{Reason: "malformed JSON", Err: err}
	}

	config := &Config{}
	if doc.IsShowcaseRepo != nil {
		config.IsShowcaseRepo = *doc.IsShowcaseRepo
	}

	switch {
	case doc.ShowcaseEnable != nil && doc.ShowcaseEnabled != nil:
		if *doc.ShowcaseEnable != *doc.ShowcaseEnabled {
			return nil, &ManifestError{Field: "showcaseEnabled", Reason: "conflicts with showcaseEnable"}
		}
		config.ShowcaseEnabled = *doc.ShowcaseEnabled
	case doc.ShowcaseEnabled != nil:
		config.ShowcaseEnabled = *doc.ShowcaseEnabled
	case doc.ShowcaseEnable != nil:
		config.ShowcaseEnabled = *doc.ShowcaseEnable
	}

	if doc.ShowcaseRepo != nil {
		config.ShowcaseRepo = strings.TrimSpace(*doc.ShowcaseRepo)
	}

	included, err := normalizeDirectories(doc.IncludedDirectories)
	if err != nil {
		return nil, err
	}
	config.IncludedDirectories = included

	excluded, err := normalizeFiles(doc.ExcludedFiles)
	if err != nil {
		return nil, err
	}
	config.ExcludedFiles = excluded

	if !config.Eligible() {
		return config, nil
	}

	if config.ShowcaseRepo == "" {
		return nil, &ManifestError{Field: "showcaseRepo", Reason: "is required when showcasing is enabled"}
	}
	if strings.Contains(config.ShowcaseRepo, "/") {
		return nil, &ManifestError{Field: "showcaseRepo", Reason: "must be a repository name of the same owner, not a path"}
	}
	if len(config.IncludedDirectories) == 0 {
		return nil, &ManifestError{Field: "includedDirectories", Reason: "must list at least one directory"}
	}

	return config, nil
}

func normalizeDirectories(dirs []string) ([]string, error) {
	normalized := make([]string, 0, len(dirs))
	seen := make(map[string]bool, len(dirs))
	for i, dir := range dirs {
		field := fmt.Sprintf("includedDirectories[%d]", i)
		if !strings.HasPrefix(dir, "/") {
			return nil, &ManifestError{Field: field, Reason: fmt.Sprintf("%q must start with /", dir)}
		}
		p, err := tree.NormalizePath(dir)
		if err != nil {
			return nil, &ManifestError{Field: field, Reason: err.Error(), Err: err}
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		normalized = append(normalized, p)
	}
	return normalized, nil
}

func normalizeFiles(files []string) ([]string, error) {
	normalized := make([]string, 0, len(files))
	for i, file := range files {
		p, err := tree.NormalizePath(file)
		if err == nil && p == "" {
			err = fmt.Errorf("path %q names the repository root", file)
		}
		if err != nil {
			return nil, &ManifestError{Field: fmt.Sprintf("excludedFiles[%d]", i), Reason: err.Error(), Err: err}
		}
		normalized = append(normalized, p)
	}
	return normalized, nil
}
