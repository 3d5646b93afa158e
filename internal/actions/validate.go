package actions

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mxcd/showcaser/internal/configuration"
)

type ValidateOptions struct {
	ConfigPath   string
	OutputFormat string
	// SyncOnly skips the checks that only the webhook server needs.
	SyncOnly bool
	Out      io.Writer
}

func Validate(options *ValidateOptions) error {
	log.Debug().Str("config", options.ConfigPath).Msg("Loading configuration...")

	config, err := configuration.LoadConfiguration(options.ConfigPath)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return fmt.Errorf("configuration load error: %w", err)
	}

	log.Debug().Msg("Configuration loaded successfully")

	var validationResult *configuration.ValidationResult
	if options.SyncOnly {
		validationResult = configuration.ValidateSync(config)
	} else {
		validationResult = configuration.ValidateConfiguration(config)
	}

	if err := outputValidationResult(output(options.Out), validationResult, options.OutputFormat); err != nil {
		log.Error().Err(err).Msg("Failed to output validation results")
		return fmt.Errorf("output error: %w", err)
	}

	if !validationResult.Valid {
		return ErrInvalidConfiguration
	}

	log.Info().Msg("Configuration is valid")
	return nil
}

func output(w io.Writer) io.Writer {
	if w == nil {
		return os.Stdout
	}
	return w
}

func outputValidationResult(w io.Writer, result *configuration.ValidationResult, format string) error {
	switch format {
	case "table":
		return outputValidationTable(w, result)
	case "json":
		return outputValidationJSON(w, result)
	case "yaml":
		return outputValidationYAML(w, result)
	case "sarif":
		return outputValidationSARIF(w, result)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

func outputValidationTable(w io.Writer, result *configuration.ValidationResult) error {
	if result.Valid {
		fmt.Fprintln(w, "✓ Configuration is valid")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("✗ Configuration validation failed")
	t.AppendHeader(table.Row{"Field", "Problem"})
	for _, err := range result.Errors {
		t.AppendRow(table.Row{err.Field, err.Message})
	}
	t.AppendFooter(table.Row{"Total errors", len(result.Errors)})
	t.SetStyle(table.StyleRounded)
	t.Render()
	return nil
}

type validationOutput struct {
	Valid      bool                             `json:"valid" yaml:"valid"`
	ErrorCount int                              `json:"errorCount" yaml:"errorCount"`
	Errors     []*configuration.ValidationError `json:"errors" yaml:"errors"`
}

func newValidationOutput(result *configuration.ValidationResult) validationOutput {
	return validationOutput{Valid: result.Valid, ErrorCount: len(result.Errors), Errors: result.Errors}
}

func outputValidationJSON(w io.Writer, result *configuration.ValidationResult) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(newValidationOutput(result))
}

func outputValidationYAML(w io.Writer, result *configuration.ValidationResult) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(newValidationOutput(result))
}

func outputValidationSARIF(w io.Writer, result *configuration.ValidationResult) error {
	// Basic SARIF 2.1.0 format
	sarif := map[string]interface{}{
		"version": "2.1.0",
		"$schema": "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		"runs": []interface{}{
			map[string]interface{}{
				"tool": map[string]interface{}{
					"driver": map[string]interface{}{
						"name":           "showcaser-validate",
						"informationUri": configuration.DefaultHomepageURL,
						"version":        Version,
					},
				},
				"results": convertErrorsToSARIF(result.Errors),
			},
		},
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(sarif)
}

func convertErrorsToSARIF(errors []*configuration.ValidationError) []interface{} {
	results := make([]interface{}, len(errors))
	for i, err := range errors {
		results[i] = map[string]interface{}{
			"ruleId": "configuration-error",
			"level":  "error",
			"message": map[string]interface{}{
				"text": err.Message,
			},
			"locations": []interface{}{
				map[string]interface{}{
					"logicalLocations": []interface{}{
						map[string]interface{}{
							"fullyQualifiedName": err.Field,
						},
					},
				},
			},
		}
	}
	return results
}
