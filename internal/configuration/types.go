package configuration

import "time"

type Config struct {
	Server ServerConfig `yaml:"server"`
	App    AppConfig    `yaml:"app"`
	Sync   SyncConfig   `yaml:"sync"`
}

type ServerConfig struct {
	ListenAddr    string `yaml:"listenAddr,omitempty"`
	WebhookSecret string `yaml:"webhookSecret,omitempty"`
	HomepageURL   string `yaml:"homepageUrl,omitempty"`
}

type AppConfig struct {
	ID             int64  `yaml:"id,omitempty"`
	PrivateKey     string `yaml:"privateKey,omitempty"`     // PEM, takes precedence over privateKeyFile
	PrivateKeyFile string `yaml:"privateKeyFile,omitempty"` // Path to a PEM file
	APIBaseURL     string `yaml:"apiBaseUrl,omitempty"`
}

type SyncConfig struct {
	StagingBranch   string        `yaml:"stagingBranch,omitempty"`
	CommitMessage   string        `yaml:"commitMessage,omitempty"`
	DeleteMessage   string        `yaml:"deleteMessage,omitempty"`
	MergeMessage    string        `yaml:"mergeMessage,omitempty"`
	MaxDepth        int           `yaml:"maxDepth,omitempty"`
	CacheSize       int           `yaml:"cacheSize,omitempty"`
	ParallelCollect bool          `yaml:"parallelCollect,omitempty"`
	RunTimeout      time.Duration `yaml:"runTimeout,omitempty"`
	CleanupTimeout  time.Duration `yaml:"cleanupTimeout,omitempty"`
	WritesPerSecond float64       `yaml:"writesPerSecond,omitempty"` // negative disables pacing
	Retry           RetryConfig   `yaml:"retry,omitempty"`
}

type RetryConfig struct {
	MaxRetries      int           `yaml:"maxRetries,omitempty"` // -1 disables retries
	InitialInterval time.Duration `yaml:"initialInterval,omitempty"`
	MaxInterval     time.Duration `yaml:"maxInterval,omitempty"`
}
