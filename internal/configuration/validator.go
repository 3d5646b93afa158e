package configuration

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string `json:"field" yaml:"field"`
	Message string `json:"message" yaml:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains the results of configuration validation
type ValidationResult struct {
	Valid  bool
	Errors []*ValidationError
}

// AddError adds a validation error to the result
func (r *ValidationResult) AddError(field, message string) {
	r.Valid = false
	r.Errors = append(r.Errors, &ValidationError{
		Field:   field,
		Message: message,
	})
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:  true,
		Errors: make([]*ValidationError, 0),
	}
}

// ValidateConfiguration checks everything the webhook server needs: the
// listener, the app credentials and the sync settings.
func ValidateConfiguration(config *Config) *ValidationResult {
	result := newValidationResult()
	validateServer(config, result)
	validateApp(config, result)
	validateSync(config, result)
	return result
}

// ValidateSync checks only the settings a one-shot sync with an externally
// provided token needs.
func ValidateSync(config *Config) *ValidationResult {
	result := newValidationResult()
	validateAPIBaseURL(config, result)
	validateSync(config, result)
	return result
}

func validateServer(config *Config, result *ValidationResult) {
	if strings.TrimSpace(config.Server.WebhookSecret) == "" {
		result.AddError("server.webhookSecret", fmt.Sprintf("webhook secret cannot be empty (set it or %s)", EnvWebhookSecret))
	}

	if _, port, err := net.SplitHostPort(config.Server.ListenAddr); err != nil {
		result.AddError("server.listenAddr", fmt.Sprintf("invalid listen address %q: %v", config.Server.ListenAddr, err))
	} else if port == "" {
		result.AddError("server.listenAddr", "listen address must include a port")
	}

	if config.Server.HomepageURL != "" && !isHTTPURL(config.Server.HomepageURL) {
		result.AddError("server.homepageUrl", fmt.Sprintf("not an http(s) URL: %s", config.Server.HomepageURL))
	}
}

func validateApp(config *Config, result *ValidationResult) {
	if config.App.ID <= 0 {
		result.AddError("app.id", fmt.Sprintf("app id must be a positive number (set it or %s)", EnvAppID))
	}

	if config.App.PrivateKey != "" && config.App.PrivateKeyFile != "" {
		result.AddError("app.privateKey", "privateKey and privateKeyFile are mutually exclusive")
	}
	key, err := config.App.ReadPrivateKey()
	if err != nil {
		result.AddError("app.privateKey", fmt.Sprintf("%v (set privateKey, privateKeyFile or %s)", err, EnvPrivateKey))
	} else if _, err := jwt.ParseRSAPrivateKeyFromPEM(key); err != nil {
		result.AddError("app.privateKey", fmt.Sprintf("not a PEM encoded RSA private key: %v", err))
	}

	validateAPIBaseURL(config, result)
}

func validateAPIBaseURL(config *Config, result *ValidationResult) {
	if !isHTTPURL(config.App.APIBaseURL) {
		result.AddError("app.apiBaseUrl", fmt.Sprintf("not an http(s) URL: %s", config.App.APIBaseURL))
	}
}

func validateSync(config *Config, result *ValidationResult) {
	sync := config.Sync

	if !isValidBranchName(sync.StagingBranch) {
		result.AddError("sync.stagingBranch", fmt.Sprintf("invalid branch name: %q", sync.StagingBranch))
	}
	if strings.TrimSpace(sync.CommitMessage) == "" {
		result.AddError("sync.commitMessage", "commit message cannot be empty")
	}
	if strings.TrimSpace(sync.DeleteMessage) == "" {
		result.AddError("sync.deleteMessage", "delete message cannot be empty")
	}
	if strings.TrimSpace(sync.MergeMessage) == "" {
		result.AddError("sync.mergeMessage", "merge message cannot be empty")
	}
	if sync.MaxDepth < 1 {
		result.AddError("sync.maxDepth", "must be at least 1")
	}
	if sync.CacheSize < 1 {
		result.AddError("sync.cacheSize", "must be at least 1")
	}
	if sync.RunTimeout <= 0 {
		result.AddError("sync.runTimeout", "must be positive")
	}
	if sync.CleanupTimeout <= 0 {
		result.AddError("sync.cleanupTimeout", "must be positive")
	}
	if sync.Retry.MaxRetries < -1 {
		result.AddError("sync.retry.maxRetries", "must be -1 (disabled) or more")
	}
	if sync.Retry.InitialInterval <= 0 {
		result.AddError("sync.retry.initialInterval", "must be positive")
	}
	if sync.Retry.MaxInterval < sync.Retry.InitialInterval {
		result.AddError("sync.retry.maxInterval", "must not be shorter than initialInterval")
	}
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// isValidBranchName applies the subset of git's ref name rules that matter for
// a branch the service creates.
func isValidBranchName(name string) bool {
	if name == "" || name == "@" || strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") ||
		strings.HasSuffix(name, ".") || strings.HasSuffix(name, ".lock") || strings.HasPrefix(name, "-") {
		return false
	}
	for _, bad := range []string{"..", "//", "@{", "\\"} {
		if strings.Contains(name, bad) {
			return false
		}
	}
	for _, r := range name {
		if r <= ' ' || r == 0x7f || strings.ContainsRune("~^:?*[", r) {
			return false
		}
	}
	return true
}
