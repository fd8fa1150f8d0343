package config

import (
	"os"
	"path/filepath"
)

// EnvConfig overrides the config file location.
const EnvConfig = "CONDUCT_CONFIG"

// GetConfigPath returns the configuration file path: $CONDUCT_CONFIG if
// set, otherwise ~/.conduct/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv(EnvConfig); configPath != "" {
		return configPath, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(homeDir, ".conduct", "config"), nil
}

// EnsureConfigDir ensures that the configuration directory exists.
func EnsureConfigDir() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	return os.MkdirAll(filepath.Dir(configPath), 0755)
}
