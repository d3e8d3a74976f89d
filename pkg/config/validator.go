package config

import (
	// blank import for embeds
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"sigs.k8s.io/yaml"
)

const (
	defaultVersion = "1.0"
	errorString    = `There is a problem in your ltxkit.yaml file.
%s.`
)

//go:embed data/config_schema_v1.0.json
var schemaV1 []byte

func getSchema(version string) (gojsonschema.JSONLoader, error) {
	// Default schema
	currentSchema := schemaV1

	switch version { //nolint:gocritic
	case defaultVersion:
		currentSchema = schemaV1
	}

	return gojsonschema.NewStringLoader(string(currentSchema)), nil
}

// ValidateConfig validates an already-parsed config against the schema.
func ValidateConfig(config *Config, version string) error {
	schemaLoader, err := getSchema(version)
	if err != nil {
		return err
	}
	dataLoader := gojsonschema.NewGoLoader(config)
	return ValidateSchema(schemaLoader, dataLoader)
}

// Validate validates raw YAML config against the schema.
func Validate(yamlConfig string, version string) error {
	j, err := yaml.YAMLToJSON([]byte(yamlConfig))
	if err != nil {
		return err
	}

	schemaLoader, err := getSchema(version)
	if err != nil {
		return err
	}
	dataLoader := gojsonschema.NewStringLoader(string(j))
	return ValidateSchema(schemaLoader, dataLoader)
}

func ValidateSchema(schemaLoader, dataLoader gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		return toError(result)
	}
	return nil
}

func toError(result *gojsonschema.Result) error {
	descriptions := make([]string, 0, len(result.Errors()))
	for _, err := range result.Errors() {
		descriptions = append(descriptions, fmt.Sprintf("%s: %s", err.Field(), err.Description()))
	}
	return fmt.Errorf(errorString, strings.Join(descriptions, "\n"))
}
