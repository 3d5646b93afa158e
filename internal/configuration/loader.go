package configuration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mxcd/showcaser/internal/github"
	"github.com/mxcd/showcaser/internal/publish"
	"github.com/mxcd/showcaser/internal/retry"
	"github.com/mxcd/showcaser/internal/tree"
	"github.com/mxcd/showcaser/internal/webhook"
)

const (
	DefaultListenPort      = "8080"
	DefaultHomepageURL     = "https://github.com/Esouder/Showcaser"
	DefaultWritesPerSecond = 1.0
)

// Environment variables that fill settings the configuration leaves empty.
const (
	EnvWebhookSecret = "GH_SECRET"
	EnvAppID         = "GH_APP_ID"
	EnvPrivateKey    = "GH_PRIVATE_KEY"
	EnvPort          = "PORT"
)

// LoadConfiguration reads the configuration from the given path.
// If the path is a directory, all .yml and .yaml files within it are applied in
// lexical order, later files overriding earlier ones. An empty path yields a
// configuration built from the environment alone.
// Environment and SOPS substitution, environment fallbacks and defaults are
// applied afterwards.
func LoadConfiguration(configPath string) (*Config, error) {
	config := &Config{}

	if configPath != "" {
		fileInfo, err := os.Stat(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to access configuration path: %w", err)
		}

		if fileInfo.IsDir() {
			if err := loadConfigurationFromDirectory(configPath, config); err != nil {
				return nil, err
			}
		} else {
			if err := loadSingleConfigurationFile(configPath, config); err != nil {
				return nil, err
			}
		}
	}

	ctx := NewSubstitutionContext()
	if err := ctx.SubstituteInConfig(config); err != nil {
		return nil, fmt.Errorf("failed to substitute variables: %w", err)
	}

	if err := applyEnvironment(config); err != nil {
		return nil, err
	}
	ApplyDefaults(config)

	return config, nil
}

// loadSingleConfigurationFile decodes a file over config
func loadSingleConfigurationFile(configPath string, config *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read configuration file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse configuration YAML: %w", err)
	}

	return nil
}

func loadConfigurationFromDirectory(dirPath string, config *Config) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read configuration directory: %w", err)
	}

	var configFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
			configFiles = append(configFiles, filepath.Join(dirPath, name))
		}
	}

	if len(configFiles) == 0 {
		return fmt.Errorf("no .yml or .yaml files found in directory: %s", dirPath)
	}
	sort.Strings(configFiles)

	log.Debug().
		Str("directory", dirPath).
		Int("fileCount", len(configFiles)).
		Msg("Loading configuration from directory")

	for _, filePath := range configFiles {
		if err := loadSingleConfigurationFile(filePath, config); err != nil {
			return fmt.Errorf("failed to load %s: %w", filePath, err)
		}
	}

	return nil
}

// applyEnvironment fills empty settings from the environment variables the
// service has always been deployed with.
func applyEnvironment(config *Config) error {
	if config.Server.WebhookSecret == "" {
		config.Server.WebhookSecret = os.Getenv(EnvWebhookSecret)
	}

	if config.App.ID == 0 {
		if value := os.Getenv(EnvAppID); value != "" {
			id, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid %s %q: %w", EnvAppID, value, err)
			}
			config.App.ID = id
		}
	}

	if config.App.PrivateKey == "" && config.App.PrivateKeyFile == "" {
		config.App.PrivateKey = os.Getenv(EnvPrivateKey)
	}

	if config.Server.ListenAddr == "" {
		if port := os.Getenv(EnvPort); port != "" {
			config.Server.ListenAddr = ":" + port
		}
	}

	return nil
}

// ApplyDefaults sets every unset field to its default.
func ApplyDefaults(config *Config) {
	if config.Server.ListenAddr == "" {
		config.Server.ListenAddr = ":" + DefaultListenPort
	}
	if config.Server.HomepageURL == "" {
		config.Server.HomepageURL = DefaultHomepageURL
	}
	if config.App.APIBaseURL == "" {
		config.App.APIBaseURL = github.DefaultAPIBaseURL
	}

	publishDefaults := publish.DefaultOptions()
	sync := &config.Sync
	if sync.StagingBranch == "" {
		sync.StagingBranch = publishDefaults.Branch
	}
	if sync.CommitMessage == "" {
		sync.CommitMessage = publishDefaults.CommitMessage
	}
	if sync.DeleteMessage == "" {
		sync.DeleteMessage = publishDefaults.DeleteMessage
	}
	if sync.MergeMessage == "" {
		sync.MergeMessage = publishDefaults.MergeMessage
	}
	if sync.MaxDepth == 0 {
		sync.MaxDepth = tree.DefaultMaxDepth
	}
	if sync.CacheSize == 0 {
		sync.CacheSize = tree.DefaultCacheSize
	}
	if sync.RunTimeout == 0 {
		sync.RunTimeout = webhook.DefaultRunTimeout
	}
	if sync.CleanupTimeout == 0 {
		sync.CleanupTimeout = publishDefaults.CleanupTimeout
	}
	if sync.WritesPerSecond == 0 {
		sync.WritesPerSecond = DefaultWritesPerSecond
	}

	retryDefaults := retry.DefaultPolicy()
	if sync.Retry.MaxRetries == 0 {
		sync.Retry.MaxRetries = int(retryDefaults.MaxRetries)
	}
	if sync.Retry.InitialInterval == 0 {
		sync.Retry.InitialInterval = retryDefaults.InitialInterval
	}
	if sync.Retry.MaxInterval == 0 {
		sync.Retry.MaxInterval = retryDefaults.MaxInterval
	}
}

// ReadPrivateKey returns the app's PEM key, reading privateKeyFile when no
// inline key is configured.
func (c *AppConfig) ReadPrivateKey() ([]byte, error) {
	if c.PrivateKey != "" {
		// keys passed through single-line env vars often carry literal \n
		return []byte(strings.ReplaceAll(c.PrivateKey, `\n`, "\n")), nil
	}
	if c.PrivateKeyFile == "" {
		return nil, fmt.Errorf("no private key configured")
	}
	data, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}
	return data, nil
}

// RetryPolicy converts the retry settings.
func (c *SyncConfig) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:      uint64(max(c.Retry.MaxRetries, 0)),
		InitialInterval: c.Retry.InitialInterval,
		MaxInterval:     c.Retry.MaxInterval,
	}
}

// PublishOptions builds the staged publisher settings.
func (c *SyncConfig) PublishOptions() publish.Options {
	return publish.Options{
		Branch:         c.StagingBranch,
		CommitMessage:  c.CommitMessage,
		DeleteMessage:  c.DeleteMessage,
		MergeMessage:   c.MergeMessage,
		Retry:          c.RetryPolicy(),
		CleanupTimeout: c.CleanupTimeout,
	}
}

// CollectOptions builds the tree collector settings.
func (c *SyncConfig) CollectOptions() tree.Options {
	return tree.Options{
		MaxDepth:  c.MaxDepth,
		CacheSize: c.CacheSize,
		Parallel:  c.ParallelCollect,
		Retry:     c.RetryPolicy(),
	}
}
