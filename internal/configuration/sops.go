package configuration

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/getsops/sops/v3/decrypt"
	"gopkg.in/yaml.v3"
)

// DecryptSOPSFile decrypts a SOPS encrypted YAML or JSON file and decodes it.
// Keys are resolved by SOPS itself, from the environment or its config files.
func DecryptSOPSFile(filePath string) (map[string]interface{}, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("cannot access SOPS file: %w", err)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(filePath), ".json") {
		format = "json"
	}

	cleartext, err := decrypt.File(filePath, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SOPS file: %w", err)
	}

	// JSON is valid YAML, one decoder covers both formats
	var data map[string]interface{}
	if err := yaml.Unmarshal(cleartext, &data); err != nil {
		return nil, fmt.Errorf("failed to parse decrypted %s: %w", format, err)
	}
	return data, nil
}
