package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/litetx/ltxkit/pkg/errors"
	"github.com/litetx/ltxkit/pkg/util/files"
)

const maxSearchDepth = 100

// GetProjectDir returns the project's root directory: the nearest parent of the
// working directory containing the config file.
func GetProjectDir(configFilename string) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return findProjectRootDir(cwd, configFilename)
}

// GetConfig loads, validates and completes the config from the project root.
func GetConfig(configFilename string) (*Config, string, error) {
	config, rootDir, err := GetRawConfig(configFilename)
	if err != nil {
		return nil, "", err
	}
	if err := config.ValidateAndComplete(); err != nil {
		return nil, "", err
	}
	// The filled-in defaults must still conform to the schema.
	if err := ValidateConfig(config, ""); err != nil {
		return nil, "", err
	}
	return config, rootDir, nil
}

func GetRawConfig(configFilename string) (*Config, string, error) {
	rootDir, err := GetProjectDir(configFilename)
	if err != nil {
		return nil, "", err
	}
	configPath := path.Join(rootDir, configFilename)

	config, err := loadConfigFromFile(configPath)
	if err != nil {
		return nil, "", err
	}

	return config, rootDir, nil
}

func loadConfigFromFile(file string) (*Config, error) {
	exists, err := files.Exists(file)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.ConfigNotFound(fmt.Sprintf("%s not found", file))
	}

	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	if err := Validate(string(contents), ""); err != nil {
		return nil, err
	}

	return FromYAML(contents)
}

// Walk up the directory tree until the config file is found.
func findProjectRootDir(startDir string, configFilename string) (string, error) {
	dir := startDir
	for i := 0; i < maxSearchDepth; i++ {
		exists, err := files.Exists(path.Join(dir, configFilename))
		if err != nil {
			return "", err
		}
		if exists {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.ConfigNotFound(fmt.Sprintf("%s not found in %s (or any parent directories)", configFilename, startDir))
}
