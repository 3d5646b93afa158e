package configuration

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// SubstitutionContext resolves ${...} placeholders. Decrypted SOPS files are
// kept for the lifetime of the context.
type SubstitutionContext struct {
	sopsCache map[string]map[string]interface{}
	decrypt   func(filePath string) (map[string]interface{}, error)
}

func NewSubstitutionContext() *SubstitutionContext {
	return &SubstitutionContext{
		sopsCache: make(map[string]map[string]interface{}),
		decrypt:   DecryptSOPSFile,
	}
}

// SubstituteVariables replaces placeholders in input:
//   - ${VAR_NAME} with the environment variable, which must be set
//   - ${SOPS[path/to/file.yml].path.to.value} with a value of a SOPS encrypted file
func (ctx *SubstitutionContext) SubstituteVariables(input string) (string, error) {
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(input, func(placeholder string) string {
		if firstErr != nil {
			return placeholder
		}
		expression := placeholder[2 : len(placeholder)-1]

		if strings.HasPrefix(expression, "SOPS[") {
			value, err := ctx.resolveSOPSReference(expression)
			if err != nil {
				firstErr = fmt.Errorf("failed to resolve SOPS reference %s: %w", placeholder, err)
				return placeholder
			}
			return value
		}

		value, ok := os.LookupEnv(expression)
		if !ok || value == "" {
			firstErr = fmt.Errorf("environment variable %s is not set", expression)
			return placeholder
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// resolveSOPSReference resolves SOPS[file.yml].path.to.value
func (ctx *SubstitutionContext) resolveSOPSReference(expression string) (string, error) {
	rest, ok := strings.CutPrefix(expression, "SOPS[")
	if !ok {
		return "", fmt.Errorf("invalid SOPS reference format: %s", expression)
	}

	filePath, yamlPath, ok := strings.Cut(rest, "]")
	if !ok {
		return "", fmt.Errorf("invalid SOPS reference format (missing ]): %s", expression)
	}
	if yamlPath == "" {
		return "", fmt.Errorf("SOPS reference must include a YAML path: %s", expression)
	}
	yamlPath, ok = strings.CutPrefix(yamlPath, ".")
	if !ok {
		return "", fmt.Errorf("invalid SOPS reference format (expected . after ]): %s", expression)
	}
	if yamlPath == "" {
		return "", fmt.Errorf("SOPS reference must include a YAML path: %s", expression)
	}

	data, err := ctx.loadSOPSFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to load SOPS file %s: %w", filePath, err)
	}

	value, err := GetYAMLValue(data, yamlPath)
	if err != nil {
		return "", fmt.Errorf("failed to access path %s in SOPS file %s: %w", yamlPath, filePath, err)
	}
	return fmt.Sprintf("%v", value), nil
}

func (ctx *SubstitutionContext) loadSOPSFile(filePath string) (map[string]interface{}, error) {
	if data, ok := ctx.sopsCache[filePath]; ok {
		return data, nil
	}

	data, err := ctx.decrypt(filePath)
	if err != nil {
		return nil, err
	}
	ctx.sopsCache[filePath] = data
	return data, nil
}

// SubstituteInConfig substitutes variables in every string setting that may
// carry a secret or a deployment specific value.
func (ctx *SubstitutionContext) SubstituteInConfig(config *Config) error {
	fields := []struct {
		name  string
		value *string
	}{
		{"server.listenAddr", &config.Server.ListenAddr},
		{"server.webhookSecret", &config.Server.WebhookSecret},
		{"server.homepageUrl", &config.Server.HomepageURL},
		{"app.privateKey", &config.App.PrivateKey},
		{"app.privateKeyFile", &config.App.PrivateKeyFile},
		{"app.apiBaseUrl", &config.App.APIBaseURL},
		{"sync.stagingBranch", &config.Sync.StagingBranch},
		{"sync.commitMessage", &config.Sync.CommitMessage},
		{"sync.deleteMessage", &config.Sync.DeleteMessage},
		{"sync.mergeMessage", &config.Sync.MergeMessage},
	}

	for _, field := range fields {
		if *field.value == "" {
			continue
		}
		substituted, err := ctx.SubstituteVariables(*field.value)
		if err != nil {
			return fmt.Errorf("failed to substitute %s: %w", field.name, err)
		}
		*field.value = substituted
	}

	return nil
}

// GetYAMLValue walks a decoded YAML document along a dotted path,
// e.g. "github.app.key".
func GetYAMLValue(data map[string]interface{}, path string) (interface{}, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}

	var current interface{} = data
	for i, key := range strings.Split(path, ".") {
		if key == "" {
			return nil, fmt.Errorf("invalid path: empty segment at position %d", i)
		}

		var value interface{}
		var found bool
		switch node := current.(type) {
		case map[string]interface{}:
			value, found = node[key]
		case map[interface{}]interface{}:
			value, found = node[key]
		default:
			return nil, fmt.Errorf("path not found: %s (cannot traverse into non-map at '%s')", path, key)
		}
		if !found {
			return nil, fmt.Errorf("path not found: %s (missing key '%s')", path, key)
		}
		current = value
	}

	return current, nil
}
